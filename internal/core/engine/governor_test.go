package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotapilot/quotapilot/internal/core"
)

// fakeTimeline drives a governor without real sleeping: Sleep records each
// requested duration and advances the clock by it.
type fakeTimeline struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeTimeline() *fakeTimeline {
	return &fakeTimeline{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTimeline) Clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTimeline) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slept = append(f.slept, d)
	f.now = f.now.Add(d)
	return nil
}

func (f *fakeTimeline) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.slept...)
}

func TestGovernorAdaptiveDelay(t *testing.T) {
	tl := newFakeTimeline()
	gov := &Governor{Clock: tl.Clock, Sleep: tl.Sleep}

	require.Equal(t, DefaultMinDelay, gov.Telemetry().CurrentDelay)

	gov.RecordResponse(429)
	require.Equal(t, 375*time.Millisecond, gov.Telemetry().CurrentDelay)

	gov.RecordResponse(429)
	require.Equal(t, 562500*time.Microsecond, gov.Telemetry().CurrentDelay)

	gov.RecordResponse(200)
	require.Equal(t, 450*time.Millisecond, gov.Telemetry().CurrentDelay)

	for i := 0; i < 10; i++ {
		gov.RecordResponse(200)
	}
	require.Equal(t, DefaultMinDelay, gov.Telemetry().CurrentDelay)
}

func TestGovernorDelayCappedAtMax(t *testing.T) {
	tl := newFakeTimeline()
	gov := &Governor{MinDelay: 4 * time.Second, Clock: tl.Clock, Sleep: tl.Sleep}

	gov.RecordResponse(429)
	require.Equal(t, DefaultMaxDelay, gov.Telemetry().CurrentDelay)

	gov.RecordResponse(429)
	require.Equal(t, DefaultMaxDelay, gov.Telemetry().CurrentDelay)
}

func TestGovernorSpacesSuccessiveStarts(t *testing.T) {
	tl := newFakeTimeline()
	gov := &Governor{Clock: tl.Clock, Sleep: tl.Sleep}
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, gov.Execute(context.Background(), core.PriorityNormal, "first", noop))
	require.Empty(t, tl.Slept())

	require.NoError(t, gov.Execute(context.Background(), core.PriorityNormal, "second", noop))
	require.Equal(t, []time.Duration{250 * time.Millisecond}, tl.Slept())

	gov.RecordResponse(429)
	require.NoError(t, gov.Execute(context.Background(), core.PriorityNormal, "third", noop))
	require.Equal(t, []time.Duration{250 * time.Millisecond, 375 * time.Millisecond}, tl.Slept())
}

func TestGovernorPauseAfterConsecutiveThrottles(t *testing.T) {
	tl := newFakeTimeline()
	gov := &Governor{PauseDuration: 2 * time.Second, Clock: tl.Clock, Sleep: tl.Sleep}

	for i := 0; i < DefaultPauseThreshold; i++ {
		gov.RecordResponse(429)
	}

	snap := gov.Snapshot()
	require.True(t, snap.Paused)
	require.NotNil(t, snap.PausedUntil)

	require.NoError(t, gov.Execute(context.Background(), core.PriorityNormal, "after-pause", func(ctx context.Context) error { return nil }))
	require.Contains(t, tl.Slept(), 2*time.Second)

	stats := gov.Telemetry()
	require.Equal(t, uint64(1), stats.SystemPauses)
	require.Equal(t, DefaultMinDelay, stats.CurrentDelay)
	require.Zero(t, gov.Snapshot().ConsecutiveThrottles)
	require.False(t, gov.Snapshot().Paused)
}

func TestGovernorSuccessResetsConsecutiveCount(t *testing.T) {
	tl := newFakeTimeline()
	gov := &Governor{Clock: tl.Clock, Sleep: tl.Sleep}

	for i := 0; i < DefaultPauseThreshold-1; i++ {
		gov.RecordResponse(429)
	}
	gov.RecordResponse(200)
	gov.RecordResponse(429)

	require.False(t, gov.Snapshot().Paused)
	require.Zero(t, gov.Telemetry().SystemPauses)
}

func TestGovernorTelemetryCounters(t *testing.T) {
	tl := newFakeTimeline()
	gov := &Governor{Clock: tl.Clock, Sleep: tl.Sleep}
	noop := func(ctx context.Context) error { return nil }

	for i := 0; i < 3; i++ {
		require.NoError(t, gov.Execute(context.Background(), core.PriorityNormal, "op", noop))
		gov.RecordResponse(200)
	}
	gov.RecordResponse(429)

	stats := gov.Telemetry()
	require.Equal(t, uint64(3), stats.TotalRequests)
	require.Equal(t, uint64(1), stats.Total429s)
	require.InDelta(t, 0.25, stats.RateLimitRate, 1e-9)
}

func TestGovernorConcurrencyCap(t *testing.T) {
	gov := &Governor{MinDelay: time.Nanosecond}

	var active, peak int64
	errs := make(chan error, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- gov.Execute(context.Background(), core.PriorityNormal, "load", func(ctx context.Context) error {
				n := atomic.AddInt64(&active, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
						break
					}
				}
				time.Sleep(100 * time.Millisecond)
				atomic.AddInt64(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int64(2), atomic.LoadInt64(&peak))
	require.Zero(t, gov.Snapshot().Active)
}

func TestGovernorInteractiveAheadOfBackground(t *testing.T) {
	gov := &Governor{MaxConcurrent: 1, MinDelay: time.Nanosecond}

	holding := make(chan struct{})
	released := make(chan struct{})
	go func() {
		_ = gov.Execute(context.Background(), core.PriorityNormal, "holder", func(ctx context.Context) error {
			close(holding)
			<-released
			return nil
		})
	}()
	<-holding

	var mu sync.Mutex
	var order []string
	run := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- gov.Execute(context.Background(), core.PriorityLow, "bg", run("bg"))
	}()
	require.Eventually(t, func() bool { return gov.Snapshot().WaitingBackground == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- gov.Execute(context.Background(), core.PriorityHigh, "fg", run("fg"))
	}()
	require.Eventually(t, func() bool { return gov.Snapshot().WaitingInteractive == 1 }, time.Second, time.Millisecond)

	close(released)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, []string{"fg", "bg"}, order)
}

func TestGovernorCancelWhileQueued(t *testing.T) {
	gov := &Governor{MaxConcurrent: 1, MinDelay: time.Nanosecond}

	holding := make(chan struct{})
	released := make(chan struct{})
	go func() {
		_ = gov.Execute(context.Background(), core.PriorityNormal, "holder", func(ctx context.Context) error {
			close(holding)
			<-released
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- gov.Execute(ctx, core.PriorityNormal, "canceled", func(ctx context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return gov.Snapshot().WaitingInteractive == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-errs
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))

	close(released)

	require.NoError(t, gov.Execute(context.Background(), core.PriorityNormal, "next", func(ctx context.Context) error { return nil }))
	require.Zero(t, gov.Snapshot().Active)
}

func TestGovernorExecuteRequiresOperation(t *testing.T) {
	gov := &Governor{}
	require.Error(t, gov.Execute(context.Background(), core.PriorityNormal, "nil-op", nil))
}

package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotapilot/quotapilot/internal/core/engine"
	"github.com/quotapilot/quotapilot/internal/remote"
)

// lazyReader returns an empty listing until visibleAfter calls have been
// made, then includes the target record.
type lazyReader struct {
	calls        int
	visibleAfter int
	record       remote.Record
	status       int
}

func (l *lazyReader) List(ctx context.Context) ([]remote.Record, *remote.Response, error) {
	l.calls++
	status := l.status
	if status == 0 {
		status = 200
	}
	if l.calls >= l.visibleAfter {
		return []remote.Record{l.record}, &remote.Response{StatusCode: status}, nil
	}
	return nil, &remote.Response{StatusCode: status}, nil
}

func namedRecord(id, name string) remote.Record {
	return remote.Record{ID: id, Fields: map[string]string{"id": id, "name": name}}
}

func TestPollDelay(t *testing.T) {
	require.Equal(t, time.Duration(0), PollDelay(0, 500*time.Millisecond))
	require.Equal(t, 500*time.Millisecond, PollDelay(1, 500*time.Millisecond))
	require.Equal(t, time.Second, PollDelay(2, 500*time.Millisecond))
	require.Equal(t, 2*time.Second, PollDelay(3, 500*time.Millisecond))
	require.Equal(t, DefaultBaseDelay, PollDelay(1, 0))
}

func TestConfirmImmediateMatchSkipsSleeping(t *testing.T) {
	reader := &lazyReader{visibleAfter: 1, record: namedRecord("a-1", "X")}
	var slept []time.Duration
	registry := &Registry{Sleep: func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}}

	found, err := registry.Confirm(context.Background(), reader, Query{Field: "name", Value: "X"})
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "a-1", found.ID)
	require.Equal(t, 1, reader.calls)
	require.Empty(t, slept)
}

func TestConfirmBacksOffUntilVisible(t *testing.T) {
	reader := &lazyReader{visibleAfter: 3, record: namedRecord("a-7", "X")}
	var slept []time.Duration
	registry := &Registry{Sleep: func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}}

	found, err := registry.Confirm(context.Background(), reader, Query{Field: "name", Value: "X"})
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, 3, reader.calls)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, slept)

	var total time.Duration
	for _, d := range slept {
		total += d
	}
	require.Equal(t, 1500*time.Millisecond, total)
}

func TestConfirmNotVisibleReturnsNilWithoutError(t *testing.T) {
	reader := &lazyReader{visibleAfter: 100, record: namedRecord("a-1", "X")}
	var slept []time.Duration
	registry := &Registry{Sleep: func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}}

	found, err := registry.Confirm(context.Background(), reader, Query{Field: "name", Value: "X"})
	require.NoError(t, err)
	require.Nil(t, found)
	require.Equal(t, DefaultMaxAttempts, reader.calls)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, slept)
}

func TestConfirmIDFieldMatchesRecordID(t *testing.T) {
	reader := &lazyReader{visibleAfter: 1, record: remote.Record{ID: "a-9"}}
	registry := &Registry{Sleep: func(ctx context.Context, d time.Duration) error { return nil }}

	found, err := registry.Confirm(context.Background(), reader, Query{Field: "id", Value: "a-9"})
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "a-9", found.ID)
}

func TestConfirmKeepsPollingThroughThrottledReads(t *testing.T) {
	reader := &lazyReader{visibleAfter: 2, record: namedRecord("a-1", "X"), status: 429}
	registry := &Registry{Sleep: func(ctx context.Context, d time.Duration) error { return nil }}

	found, err := registry.Confirm(context.Background(), reader, Query{Field: "name", Value: "X", MaxAttempts: 3})
	require.NoError(t, err)
	require.Nil(t, found)
	require.Equal(t, 3, reader.calls)
}

func TestConfirmQueryOverridesRegistryDefaults(t *testing.T) {
	reader := &lazyReader{visibleAfter: 100, record: namedRecord("a-1", "X")}
	var slept []time.Duration
	registry := &Registry{
		MaxAttempts: 10,
		BaseDelay:   time.Minute,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	found, err := registry.Confirm(context.Background(), reader, Query{Field: "name", Value: "X", MaxAttempts: 2, BaseDelay: 100 * time.Millisecond})
	require.NoError(t, err)
	require.Nil(t, found)
	require.Equal(t, 2, reader.calls)
	require.Equal(t, []time.Duration{100 * time.Millisecond}, slept)
}

func TestConfirmFeedsGovernorTelemetry(t *testing.T) {
	reader := &lazyReader{visibleAfter: 1, record: namedRecord("a-1", "X")}
	gov := &engine.Governor{
		Clock: func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) },
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	}
	registry := &Registry{Governor: gov, Sleep: func(ctx context.Context, d time.Duration) error { return nil }}

	found, err := registry.Confirm(context.Background(), reader, Query{Field: "name", Value: "X"})
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, uint64(1), gov.Telemetry().TotalRequests)
}

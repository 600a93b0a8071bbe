package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quotapilot/quotapilot/internal/core"
)

// Governor defaults. Delay bounds and factors shape the adaptive pacing
// curve; the pause settings control the everyone-back-off behavior under
// sustained throttling.
const (
	DefaultMaxConcurrent  = 2
	DefaultMinDelay       = 250 * time.Millisecond
	DefaultMaxDelay       = 5 * time.Second
	DefaultBackoffFactor  = 1.5
	DefaultDecayFactor    = 0.8
	DefaultPauseThreshold = 5
	DefaultPauseDuration  = 30 * time.Second
	DefaultWindowSpan     = time.Minute
)

// Governor gates every outbound call behind a concurrency cap, an adaptive
// minimum inter-request delay, and a system-wide pause under sustained
// throttling. One governor instance serves the whole run.
type Governor struct {
	MaxConcurrent  int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	DecayFactor    float64
	PauseThreshold int
	PauseDuration  time.Duration
	WindowSpan     time.Duration
	Clock          func() time.Time
	Sleep          func(ctx context.Context, d time.Duration) error
	OnPause        func(until time.Time)

	mu          sync.Mutex
	active      int
	interactive []*waiter
	background  []*waiter
	lastStart   time.Time
	delay       time.Duration
	consecutive int
	paused      bool
	pausedUntil time.Time
	window      []sample

	totalRequests uint64
	total429s     uint64
	systemPauses  uint64
}

// Snapshot is an instantaneous view of governor scheduling state.
type Snapshot struct {
	Active               int        `json:"active"`
	WaitingInteractive   int        `json:"waiting_interactive"`
	WaitingBackground    int        `json:"waiting_background"`
	Paused               bool       `json:"paused"`
	PausedUntil          *time.Time `json:"paused_until,omitempty"`
	ConsecutiveThrottles int        `json:"consecutive_throttles"`
}

type waiter struct {
	ready    chan struct{}
	granted  bool
	canceled bool
}

type sample struct {
	at      time.Time
	limited bool
}

// Execute acquires a slot, waits out any system pause and the minimum
// inter-request delay, then runs op. The slot is released even if op
// panics, so the next waiter is always resumed. Waiters are served FIFO
// within a priority class; interactive work goes ahead of background work.
func (g *Governor) Execute(ctx context.Context, pri core.Priority, label string, op func(ctx context.Context) error) error {
	if op == nil {
		return fmt.Errorf("operation is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := g.acquire(ctx, pri, label); err != nil {
		return err
	}
	defer g.release()

	if err := g.pace(ctx, label); err != nil {
		return err
	}

	return op(ctx)
}

// RecordResponse ingests the HTTP status of a completed operation. A
// throttling response raises the inter-request delay and counts toward the
// system-pause threshold; anything else relaxes the delay back toward the
// minimum and resets the consecutive counter.
func (g *Governor) RecordResponse(status int) {
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	limited := status == 429

	g.window = append(g.window, sample{at: now, limited: limited})
	g.pruneWindowLocked(now)

	if !limited {
		g.consecutive = 0
		relaxed := time.Duration(float64(g.delayLocked()) * g.decayFactor())
		if relaxed < g.minDelay() {
			relaxed = g.minDelay()
		}
		g.delay = relaxed
		return
	}

	g.total429s++
	g.consecutive++
	raised := time.Duration(float64(g.delayLocked()) * g.backoffFactor())
	if raised > g.maxDelay() {
		raised = g.maxDelay()
	}
	g.delay = raised

	if g.consecutive >= g.pauseThreshold() && !g.pauseActiveLocked(now) {
		g.paused = true
		g.pausedUntil = now.Add(g.pauseDuration())
		g.systemPauses++
		if g.OnPause != nil {
			go g.OnPause(g.pausedUntil)
		}
	}
}

// Telemetry returns cumulative counters plus the current adaptive state.
func (g *Governor) Telemetry() core.Telemetry {
	if g == nil {
		return core.Telemetry{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.clearPauseLocked(now)
	g.pruneWindowLocked(now)

	limited := 0
	for _, s := range g.window {
		if s.limited {
			limited++
		}
	}
	rate := 0.0
	if len(g.window) > 0 {
		rate = float64(limited) / float64(len(g.window))
	}

	return core.Telemetry{
		TotalRequests: g.totalRequests,
		Total429s:     g.total429s,
		SystemPauses:  g.systemPauses,
		CurrentDelay:  g.delayLocked(),
		RateLimitRate: rate,
	}
}

// Snapshot reports scheduling state for diagnostics.
func (g *Governor) Snapshot() Snapshot {
	if g == nil {
		return Snapshot{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{
		Active:               g.active,
		ConsecutiveThrottles: g.consecutive,
	}
	for _, w := range g.interactive {
		if !w.canceled {
			snap.WaitingInteractive++
		}
	}
	for _, w := range g.background {
		if !w.canceled {
			snap.WaitingBackground++
		}
	}
	if g.pauseActiveLocked(g.now()) {
		until := g.pausedUntil
		snap.Paused = true
		snap.PausedUntil = &until
	}
	return snap
}

func (g *Governor) acquire(ctx context.Context, pri core.Priority, label string) error {
	g.mu.Lock()
	if g.active < g.maxConcurrent() && g.queueEmptyLocked(pri) {
		g.active++
		g.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	if pri.Interactive() {
		g.interactive = append(g.interactive, w)
	} else {
		g.background = append(g.background, w)
	}
	g.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		if w.granted {
			g.mu.Unlock()
			g.release()
		} else {
			w.canceled = true
			g.mu.Unlock()
		}
		return fmt.Errorf("%s: %w", label, ctx.Err())
	}
}

func (g *Governor) release() {
	g.mu.Lock()
	if g.active > 0 {
		g.active--
	}
	g.dispatchLocked()
	g.mu.Unlock()
}

// pace waits out an active system pause and then reserves the next start
// slot, spacing it at least the current delay after the previous start.
// Clearing an elapsed pause resets the delay to the minimum and the
// consecutive counter to zero.
func (g *Governor) pace(ctx context.Context, label string) error {
	for {
		g.mu.Lock()
		now := g.now()
		if g.pauseActiveLocked(now) {
			wait := g.pausedUntil.Sub(now)
			g.mu.Unlock()
			if err := g.sleep(ctx, wait); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
			continue
		}
		g.clearPauseLocked(now)

		start := now
		if !g.lastStart.IsZero() {
			if earliest := g.lastStart.Add(g.delayLocked()); earliest.After(start) {
				start = earliest
			}
		}
		g.lastStart = start
		g.totalRequests++
		wait := start.Sub(now)
		g.mu.Unlock()

		if wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
		}
		return nil
	}
}

// dispatchLocked promotes waiters while slots are free, draining the
// interactive queue before the background queue.
func (g *Governor) dispatchLocked() {
	for g.active < g.maxConcurrent() {
		w := g.nextWaiterLocked()
		if w == nil {
			return
		}
		w.granted = true
		g.active++
		close(w.ready)
	}
}

func (g *Governor) nextWaiterLocked() *waiter {
	for len(g.interactive) > 0 {
		w := g.interactive[0]
		g.interactive = g.interactive[1:]
		if !w.canceled {
			return w
		}
	}
	for len(g.background) > 0 {
		w := g.background[0]
		g.background = g.background[1:]
		if !w.canceled {
			return w
		}
	}
	return nil
}

// queueEmptyLocked reports whether a new arrival of the given priority may
// bypass the queue without overtaking an earlier waiter of equal or higher
// class.
func (g *Governor) queueEmptyLocked(pri core.Priority) bool {
	for _, w := range g.interactive {
		if !w.canceled {
			return false
		}
	}
	if pri.Interactive() {
		return true
	}
	for _, w := range g.background {
		if !w.canceled {
			return false
		}
	}
	return true
}

func (g *Governor) pauseActiveLocked(now time.Time) bool {
	return g.paused && now.Before(g.pausedUntil)
}

func (g *Governor) clearPauseLocked(now time.Time) {
	if g.paused && !now.Before(g.pausedUntil) {
		g.paused = false
		g.pausedUntil = time.Time{}
		g.consecutive = 0
		g.delay = g.minDelay()
	}
}

func (g *Governor) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-g.windowSpan())
	kept := g.window[:0]
	for _, s := range g.window {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	g.window = kept
}

func (g *Governor) delayLocked() time.Duration {
	if g.delay <= 0 {
		g.delay = g.minDelay()
	}
	return g.delay
}

func (g *Governor) maxConcurrent() int {
	if g.MaxConcurrent > 0 {
		return g.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

func (g *Governor) minDelay() time.Duration {
	if g.MinDelay > 0 {
		return g.MinDelay
	}
	return DefaultMinDelay
}

func (g *Governor) maxDelay() time.Duration {
	if g.MaxDelay > 0 {
		return g.MaxDelay
	}
	return DefaultMaxDelay
}

func (g *Governor) backoffFactor() float64 {
	if g.BackoffFactor > 1 {
		return g.BackoffFactor
	}
	return DefaultBackoffFactor
}

func (g *Governor) decayFactor() float64 {
	if g.DecayFactor > 0 && g.DecayFactor < 1 {
		return g.DecayFactor
	}
	return DefaultDecayFactor
}

func (g *Governor) pauseThreshold() int {
	if g.PauseThreshold > 0 {
		return g.PauseThreshold
	}
	return DefaultPauseThreshold
}

func (g *Governor) pauseDuration() time.Duration {
	if g.PauseDuration > 0 {
		return g.PauseDuration
	}
	return DefaultPauseDuration
}

func (g *Governor) windowSpan() time.Duration {
	if g.WindowSpan > 0 {
		return g.WindowSpan
	}
	return DefaultWindowSpan
}

func (g *Governor) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}

func (g *Governor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if g.Sleep != nil {
		return g.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/remote"
)

// Executor defaults for the rotation and cooldown cycle.
const (
	DefaultCooldownBase = 5 * time.Second
	DefaultMaxCycles    = 3
)

// Operation issues one remote call under the currently active identity.
type Operation func(ctx context.Context) (*remote.Response, error)

// Rotator is the slice of the credential pool the executor drives: switch
// to the alternate identity, reporting whether the active one changed.
type Rotator interface {
	Switch(reason string) bool
}

// Executor wraps an operation with the governor and the credential pool.
// Throttling triggers identity rotation and cooldown cycles; every other
// outcome propagates to the caller untouched.
type Executor struct {
	Governor     *Governor
	Pool         Rotator
	CooldownBase time.Duration
	MaxCycles    int
	Sleep        func(ctx context.Context, d time.Duration) error
}

type phase int

const (
	phaseAttempt phase = iota
	phaseRotate
	phaseCooldown
)

// Run executes op until it yields a non-throttled outcome, rotating
// identity on the first throttle of each cycle and cooling down between
// cycles. After MaxCycles throttled cycles it returns a
// core.RotationExhaustedError. Errors other than rate limiting return
// immediately without rotation.
func (e *Executor) Run(ctx context.Context, pri core.Priority, label string, op Operation) (*remote.Response, error) {
	if op == nil {
		return nil, fmt.Errorf("operation is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		cycle      int
		rotated    bool
		lastStatus int
		current    = phaseAttempt
	)

	for {
		switch current {
		case phaseAttempt:
			resp, err := e.attempt(ctx, pri, label, op)
			if err != nil && !core.IsRateLimit(err) {
				return nil, err
			}
			if !throttled(resp, err) {
				return resp, nil
			}
			lastStatus = statusOf(resp, err)
			if rotated {
				current = phaseCooldown
			} else {
				current = phaseRotate
			}

		case phaseRotate:
			rotated = true
			if e.rotate(label, lastStatus) {
				current = phaseAttempt
			} else {
				current = phaseCooldown
			}

		case phaseCooldown:
			cycle++
			if cycle >= e.maxCycles() {
				return nil, &core.RotationExhaustedError{Cycles: cycle, LastStatus: lastStatus}
			}
			if err := e.sleep(ctx, e.cooldownFor(cycle-1)); err != nil {
				return nil, fmt.Errorf("%s: %w", label, err)
			}
			rotated = false
			current = phaseAttempt
		}
	}
}

// attempt routes one call through the governor and feeds the resulting
// status back into its telemetry.
func (e *Executor) attempt(ctx context.Context, pri core.Priority, label string, op Operation) (*remote.Response, error) {
	var resp *remote.Response

	run := func(ctx context.Context) error {
		r, err := op(ctx)
		resp = r
		return err
	}

	var err error
	if e.Governor != nil {
		err = e.Governor.Execute(ctx, pri, label, run)
	} else {
		err = run(ctx)
	}

	if status := statusOf(resp, err); status != 0 && e.Governor != nil {
		e.Governor.RecordResponse(status)
	}
	return resp, err
}

func (e *Executor) rotate(label string, status int) bool {
	if e.Pool == nil {
		return false
	}
	return e.Pool.Switch(fmt.Sprintf("%s throttled with status %d", label, status))
}

func (e *Executor) maxCycles() int {
	if e.MaxCycles > 0 {
		return e.MaxCycles
	}
	return DefaultMaxCycles
}

func (e *Executor) cooldownBase() time.Duration {
	if e.CooldownBase > 0 {
		return e.CooldownBase
	}
	return DefaultCooldownBase
}

// cooldownFor returns base * 2^cycle for the completed cycle index.
func (e *Executor) cooldownFor(cycle int) time.Duration {
	d := e.cooldownBase()
	for i := 0; i < cycle; i++ {
		d *= 2
	}
	return d
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
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

func throttled(resp *remote.Response, err error) bool {
	if core.IsRateLimit(err) {
		return true
	}
	return resp != nil && resp.RateLimited()
}

func statusOf(resp *remote.Response, err error) int {
	if resp != nil {
		return resp.StatusCode
	}
	var rle *core.RateLimitError
	if errors.As(err, &rle) {
		return rle.Status
	}
	return 0
}

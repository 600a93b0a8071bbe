// Package consistency confirms that a just-written item has become visible
// to reads, absorbing the replication lag of an eventually-consistent
// backend by polling with exponential delays.
package consistency

import (
	"context"
	"fmt"
	"time"

	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/core/engine"
	"github.com/quotapilot/quotapilot/internal/remote"
)

// Polling defaults. Attempt 0 queries immediately because the common case
// is already consistent.
const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = 500 * time.Millisecond
)

// PollDelay returns the wait before the given attempt: zero for attempt 0,
// then base * 2^(attempt-1).
func PollDelay(attempt int, base time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if base <= 0 {
		base = DefaultBaseDelay
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Query names the field/value pair a confirmation looks for. Zero
// MaxAttempts and BaseDelay fall back to the registry settings.
type Query struct {
	Field       string
	Value       string
	MaxAttempts int
	BaseDelay   time.Duration
}

// Registry polls a remote reader until a written item becomes visible.
type Registry struct {
	Governor    *engine.Governor
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Confirm polls reader until a record whose query field equals the query
// value appears, or attempts run out. It returns (nil, nil) when the item
// never became visible: that outcome is distinct from an error, since the
// write may have succeeded without having propagated yet.
func (r *Registry) Confirm(ctx context.Context, reader remote.Reader, query Query) (*remote.Record, error) {
	if reader == nil {
		return nil, fmt.Errorf("remote reader is required")
	}
	if query.Field == "" {
		return nil, fmt.Errorf("match field is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := r.maxAttempts(query)
	base := r.baseDelay(query)

	for attempt := 0; attempt < attempts; attempt++ {
		if err := r.sleep(ctx, PollDelay(attempt, base)); err != nil {
			return nil, fmt.Errorf("confirm %s=%s: %w", query.Field, query.Value, err)
		}

		records, resp, err := r.list(ctx, reader)
		if err != nil {
			return nil, fmt.Errorf("confirm %s=%s: %w", query.Field, query.Value, err)
		}
		if !resp.Success() {
			continue
		}

		for i := range records {
			if value, ok := records[i].Field(query.Field); ok && value == query.Value {
				found := records[i]
				return &found, nil
			}
		}
	}

	return nil, nil
}

func (r *Registry) list(ctx context.Context, reader remote.Reader) ([]remote.Record, *remote.Response, error) {
	var (
		records []remote.Record
		resp    *remote.Response
	)
	call := func(ctx context.Context) error {
		recs, rsp, err := reader.List(ctx)
		records = recs
		resp = rsp
		return err
	}

	var err error
	if r.Governor != nil {
		err = r.Governor.Execute(ctx, core.PriorityNormal, "consistency.confirm", call)
		if resp != nil {
			r.Governor.RecordResponse(resp.StatusCode)
		}
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, resp, err
	}
	if resp == nil {
		return nil, nil, fmt.Errorf("list returned no response")
	}
	return records, resp, nil
}

func (r *Registry) maxAttempts(query Query) int {
	if query.MaxAttempts > 0 {
		return query.MaxAttempts
	}
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (r *Registry) baseDelay(query Query) time.Duration {
	if query.BaseDelay > 0 {
		return query.BaseDelay
	}
	if r.BaseDelay > 0 {
		return r.BaseDelay
	}
	return DefaultBaseDelay
}

func (r *Registry) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
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

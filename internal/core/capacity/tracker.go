// Package capacity mirrors the remote per-identity quota and reclaims slots
// when the quota fills up. The local count is a best-effort cache; the
// remote listing stays the source of truth and Reconcile refreshes from it.
package capacity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/core/engine"
	"github.com/quotapilot/quotapilot/internal/remote"
)

// Quota defaults. Margin is the count at which EnsureCapacity stops
// trusting the local cache and reconciles before acting; SweepLimit bounds
// how many items a forced cleanup may remove in one pass.
const (
	DefaultCap        = 20
	DefaultMargin     = 17
	DefaultSweepLimit = 5
	DefaultRetryPause = 2 * time.Second
)

// Journal records cleanup decisions for audit.
type Journal interface {
	Append(ctx context.Context, event core.RunEvent) error
}

// Tracker keeps the quota state for the active identity: item count, the
// protected default item, and the ids created during this run. Counters
// are adjusted optimistically by TrackCreated/TrackDeleted and re-read
// from the remote system whenever decisions get close to the cap.
type Tracker struct {
	Governor   *engine.Governor
	Journal    Journal
	Cap        int
	Margin     int
	SweepLimit int
	RetryPause time.Duration
	Clock      func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error

	sweepMu sync.Mutex

	mu        sync.Mutex
	count     int
	defaultID string
	created   map[string]struct{}
}

// Reconcile replaces the local quota state with a full remote read.
func (t *Tracker) Reconcile(ctx context.Context, reader remote.Reader) error {
	_, err := t.reconcile(ctx, reader)
	return err
}

// TrackCreated records one item created during this run.
func (t *Tracker) TrackCreated(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.created == nil {
		t.created = make(map[string]struct{})
	}
	t.created[id] = struct{}{}
	t.count++
}

// TrackDeleted records one item removed, regardless of who created it.
func (t *Tracker) TrackDeleted(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.created, id)
	if t.count > 0 {
		t.count--
	}
}

// IsAtCapacity reports whether the cached count has reached the cap.
func (t *Tracker) IsAtCapacity() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count >= t.cap()
}

// Snapshot reports the cached quota state.
func (t *Tracker) Snapshot() core.CapacitySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return core.CapacitySnapshot{
		Count:     t.count,
		Cap:       t.cap(),
		DefaultID: t.defaultID,
		Tracked:   len(t.created),
	}
}

// EnsureCapacity frees a quota slot when the cap is reached. Near the cap
// it reconciles first so decisions never run on a stale count. Cleanup is
// tiered: items created this run go first, then up to SweepLimit of the
// newest non-default remote items. The protected default item is never
// deleted. When both tiers leave the quota full it returns
// core.ErrCapacityUnavailable.
func (t *Tracker) EnsureCapacity(ctx context.Context, reader remote.Reader, deleter remote.Deleter) error {
	if ctx == nil {
		ctx = context.Background()
	}

	t.sweepMu.Lock()
	defer t.sweepMu.Unlock()

	if t.countNow() >= t.margin() {
		if _, err := t.reconcile(ctx, reader); err != nil {
			return fmt.Errorf("capacity check: %w", err)
		}
	}
	if t.countNow() < t.cap() {
		return nil
	}

	if err := t.deleteTracked(ctx, deleter); err != nil {
		return err
	}
	records, err := t.reconcile(ctx, reader)
	if err != nil {
		return fmt.Errorf("capacity check after tracked cleanup: %w", err)
	}
	if t.countNow() < t.cap() {
		return nil
	}

	if err := t.forceSweep(ctx, deleter, records); err != nil {
		return err
	}
	if _, err := t.reconcile(ctx, reader); err != nil {
		return fmt.Errorf("capacity check after forced cleanup: %w", err)
	}
	if t.countNow() < t.cap() {
		return nil
	}

	return core.ErrCapacityUnavailable
}

// deleteTracked removes every item created during this run.
func (t *Tracker) deleteTracked(ctx context.Context, deleter remote.Deleter) error {
	for _, id := range t.trackedIDs() {
		if id == t.defaultIDNow() {
			continue
		}
		resp, err := t.run(ctx, "capacity.cleanup", func(ctx context.Context) (*remote.Response, error) {
			return deleter.Delete(ctx, id)
		})
		if err != nil {
			return fmt.Errorf("delete tracked item %s: %w", id, err)
		}
		if !resp.Success() {
			continue
		}
		t.TrackDeleted(id)
		t.journal(core.RunEvent{Kind: core.EventDeleted, Subject: id, Detail: "tracked item removed to free quota"})
	}
	return nil
}

// forceSweep deletes up to SweepLimit of the newest non-default items. A
// throttled delete pauses briefly and retries that one delete once.
func (t *Tracker) forceSweep(ctx context.Context, deleter remote.Deleter, records []remote.Record) error {
	candidates := make([]remote.Record, 0, len(records))
	for _, rec := range records {
		if rec.IsDefault || rec.ID == "" || rec.ID == t.defaultIDNow() {
			continue
		}
		candidates = append(candidates, rec)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	if limit := t.sweepLimit(); len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, rec := range candidates {
		resp, err := t.run(ctx, "capacity.sweep", func(ctx context.Context) (*remote.Response, error) {
			return deleter.Delete(ctx, rec.ID)
		})
		if err != nil {
			return fmt.Errorf("force delete item %s: %w", rec.ID, err)
		}
		if resp.RateLimited() {
			if err := t.sleep(ctx, t.retryPause()); err != nil {
				return fmt.Errorf("force delete item %s: %w", rec.ID, err)
			}
			resp, err = t.run(ctx, "capacity.sweep.retry", func(ctx context.Context) (*remote.Response, error) {
				return deleter.Delete(ctx, rec.ID)
			})
			if err != nil {
				return fmt.Errorf("force delete item %s: %w", rec.ID, err)
			}
		}
		if !resp.Success() {
			continue
		}
		t.TrackDeleted(rec.ID)
		t.journal(core.RunEvent{Kind: core.EventForceDelete, Subject: rec.ID, Detail: "newest non-default item removed to free quota"})
	}
	return nil
}

func (t *Tracker) reconcile(ctx context.Context, reader remote.Reader) ([]remote.Record, error) {
	if reader == nil {
		return nil, fmt.Errorf("remote reader is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var records []remote.Record
	resp, err := t.run(ctx, "capacity.reconcile", func(ctx context.Context) (*remote.Response, error) {
		recs, resp, err := reader.List(ctx)
		records = recs
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("reconcile: list returned status %d", resp.StatusCode)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.count = len(records)
	t.defaultID = ""
	present := make(map[string]struct{}, len(records))
	for _, rec := range records {
		present[rec.ID] = struct{}{}
		if rec.IsDefault && t.defaultID == "" {
			t.defaultID = rec.ID
		}
	}
	for id := range t.created {
		if _, ok := present[id]; !ok {
			delete(t.created, id)
		}
	}
	return records, nil
}

// run routes one remote call through the governor as background work and
// feeds the resulting status back into its telemetry.
func (t *Tracker) run(ctx context.Context, label string, op func(ctx context.Context) (*remote.Response, error)) (*remote.Response, error) {
	var resp *remote.Response
	call := func(ctx context.Context) error {
		r, err := op(ctx)
		resp = r
		return err
	}

	var err error
	if t.Governor != nil {
		err = t.Governor.Execute(ctx, core.PriorityLow, label, call)
		if resp != nil {
			t.Governor.RecordResponse(resp.StatusCode)
		}
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resp, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s: no response", label)
	}
	return resp, nil
}

func (t *Tracker) journal(event core.RunEvent) {
	if t.Journal == nil {
		return
	}
	event.At = t.now()
	_ = t.Journal.Append(context.Background(), event)
}

func (t *Tracker) trackedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.created))
	for id := range t.created {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Tracker) countNow() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *Tracker) defaultIDNow() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.defaultID
}

func (t *Tracker) cap() int {
	if t.Cap > 0 {
		return t.Cap
	}
	return DefaultCap
}

func (t *Tracker) margin() int {
	if t.Margin > 0 {
		return t.Margin
	}
	return DefaultMargin
}

func (t *Tracker) sweepLimit() int {
	if t.SweepLimit > 0 {
		return t.SweepLimit
	}
	return DefaultSweepLimit
}

func (t *Tracker) retryPause() time.Duration {
	if t.RetryPause > 0 {
		return t.RetryPause
	}
	return DefaultRetryPause
}

func (t *Tracker) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now().UTC()
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if t.Sleep != nil {
		return t.Sleep(ctx, d)
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

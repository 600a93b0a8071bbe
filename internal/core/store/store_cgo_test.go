//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotapilot/quotapilot/internal/config"
	"github.com/quotapilot/quotapilot/internal/core"
)

func openMemoryStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenMemoryStore(t *testing.T) {
	s := openMemoryStore(t)
	require.Equal(t, "libsql", s.Driver())
}

func TestJournalAppendAndList(t *testing.T) {
	s := openMemoryStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, core.RunEvent{
		At:       base,
		Kind:     core.EventRotation,
		Identity: "secondary",
		Subject:  "primary",
		Detail:   "addresses.create throttled with status 429",
	}))
	require.NoError(t, s.Append(ctx, core.RunEvent{
		At:      base.Add(time.Minute),
		Kind:    core.EventForceDelete,
		Subject: "a-19",
		Detail:  "newest non-default item removed to free quota",
	}))

	events, err := s.Events(ctx, JournalFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, core.EventForceDelete, events[0].Kind)
	require.Equal(t, core.EventRotation, events[1].Kind)
	require.Equal(t, "secondary", events[1].Identity)
	require.Equal(t, base, events[1].At)

	rotations, err := s.Events(ctx, JournalFilter{Kind: core.EventRotation})
	require.NoError(t, err)
	require.Len(t, rotations, 1)
	require.Equal(t, "primary", rotations[0].Subject)
}

func TestJournalFilterSinceAndLimit(t *testing.T) {
	s := openMemoryStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, core.RunEvent{
			At:   base.Add(time.Duration(i) * time.Minute),
			Kind: core.EventPause,
		}))
	}

	recent, err := s.Events(ctx, JournalFilter{Since: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 2)

	capped, err := s.Events(ctx, JournalFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, capped, 3)
	require.Equal(t, base.Add(4*time.Minute), capped[0].At)
}

func TestJournalAppendRequiresKind(t *testing.T) {
	s := openMemoryStore(t)
	require.Error(t, s.Append(context.Background(), core.RunEvent{}))
}

func TestJournalPrune(t *testing.T) {
	s := openMemoryStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Append(ctx, core.RunEvent{
			At:   base.Add(time.Duration(i) * time.Hour),
			Kind: core.EventCreated,
		}))
	}

	removed, err := s.PruneEvents(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	left, err := s.Events(ctx, JournalFilter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
}

func TestTelemetrySnapshotRoundTrip(t *testing.T) {
	s := openMemoryStore(t)
	ctx := context.Background()

	missing, err := s.LatestTelemetry(ctx)
	require.NoError(t, err)
	require.Nil(t, missing)

	first := core.Telemetry{TotalRequests: 10, Total429s: 2, SystemPauses: 1, CurrentDelay: 375 * time.Millisecond, RateLimitRate: 0.2}
	at := time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveTelemetry(ctx, at, first))
	require.NoError(t, s.SaveTelemetry(ctx, at.Add(time.Minute), core.Telemetry{TotalRequests: 12, CurrentDelay: 250 * time.Millisecond}))

	latest, err := s.LatestTelemetry(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, at.Add(time.Minute), latest.TakenAt)
	require.Equal(t, uint64(12), latest.Stats.TotalRequests)
	require.Equal(t, 250*time.Millisecond, latest.Stats.CurrentDelay)
}

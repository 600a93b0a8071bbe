package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quotapilot/quotapilot/internal/core"
)

const defaultEventLimit = 100

// JournalFilter narrows an event listing. Zero values match everything.
type JournalFilter struct {
	Kind     core.EventKind
	Identity string
	Since    time.Time
	Limit    int
}

// TelemetrySnapshot is a persisted governor telemetry reading.
type TelemetrySnapshot struct {
	TakenAt time.Time      `json:"taken_at"`
	Stats   core.Telemetry `json:"stats"`
}

// Append persists one run event.
func (s *Store) Append(ctx context.Context, event core.RunEvent) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if event.Kind == "" {
		return errors.New("event kind is required")
	}

	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO run_journal (at, kind, identity, subject, detail)
		VALUES (?, ?, ?, ?, ?)
	`, at.UTC().Unix(), string(event.Kind), nullable(event.Identity), nullable(event.Subject), nullable(event.Detail))
	if err != nil {
		return fmt.Errorf("append run event: %w", err)
	}

	return nil
}

// Events lists journaled run events, newest first.
func (s *Store) Events(ctx context.Context, filter JournalFilter) ([]core.RunEvent, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var (
		clauses []string
		args    []any
	)
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if strings.TrimSpace(filter.Identity) != "" {
		clauses = append(clauses, "identity = ?")
		args = append(args, strings.TrimSpace(filter.Identity))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "at >= ?")
		args = append(args, filter.Since.UTC().Unix())
	}

	query := "SELECT id, at, kind, identity, subject, detail FROM run_journal"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY at DESC, id DESC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var events []core.RunEvent
	for rows.Next() {
		var (
			id       int64
			at       int64
			kind     string
			identity sql.NullString
			subject  sql.NullString
			detail   sql.NullString
		)
		if err := rows.Scan(&id, &at, &kind, &identity, &subject, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		events = append(events, core.RunEvent{
			ID:       id,
			At:       time.Unix(at, 0).UTC(),
			Kind:     core.EventKind(kind),
			Identity: identity.String,
			Subject:  subject.String,
			Detail:   detail.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}

	return events, nil
}

// CountEventsBefore reports how many journal entries are older than the
// cutoff, without deleting anything.
func (s *Store) CountEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if before.IsZero() {
		return 0, errors.New("cutoff time is required")
	}

	var count int64
	row := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_journal WHERE at < ?`, before.UTC().Unix())
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count run events: %w", err)
	}
	return count, nil
}

// PruneEvents deletes journal entries older than the cutoff and reports
// how many were removed.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if before.IsZero() {
		return 0, errors.New("cutoff time is required")
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM run_journal WHERE at < ?`, before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune run events: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune run events: %w", err)
	}
	return removed, nil
}

// SaveTelemetry persists one governor telemetry reading.
func (s *Store) SaveTelemetry(ctx context.Context, at time.Time, stats core.Telemetry) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO telemetry_snapshots (taken_at, total_requests, total_429s, system_pauses, current_delay_ms, rate_limit_rate)
		VALUES (?, ?, ?, ?, ?, ?)
	`, at.UTC().Unix(), stats.TotalRequests, stats.Total429s, stats.SystemPauses, stats.CurrentDelay.Milliseconds(), stats.RateLimitRate)
	if err != nil {
		return fmt.Errorf("store telemetry snapshot: %w", err)
	}

	return nil
}

// LatestTelemetry returns the most recent persisted telemetry reading, or
// nil when none has been saved yet.
func (s *Store) LatestTelemetry(ctx context.Context) (*TelemetrySnapshot, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var (
		takenAt       int64
		totalRequests uint64
		total429s     uint64
		systemPauses  uint64
		delayMillis   int64
		rate          float64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT taken_at, total_requests, total_429s, system_pauses, current_delay_ms, rate_limit_rate
		FROM telemetry_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT 1
	`)

	if err := row.Scan(&takenAt, &totalRequests, &total429s, &systemPauses, &delayMillis, &rate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch telemetry snapshot: %w", err)
	}

	return &TelemetrySnapshot{
		TakenAt: time.Unix(takenAt, 0).UTC(),
		Stats: core.Telemetry{
			TotalRequests: totalRequests,
			Total429s:     total429s,
			SystemPauses:  systemPauses,
			CurrentDelay:  time.Duration(delayMillis) * time.Millisecond,
			RateLimitRate: rate,
		},
	}, nil
}

func nullable(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

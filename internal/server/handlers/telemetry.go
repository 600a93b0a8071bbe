package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/core/engine"
	"github.com/quotapilot/quotapilot/internal/core/store"
	apperrors "github.com/quotapilot/quotapilot/internal/errors"
)

// TelemetrySource exposes live governor statistics. *engine.Governor
// satisfies it.
type TelemetrySource interface {
	Telemetry() core.Telemetry
	Snapshot() engine.Snapshot
}

// JournalSource lists persisted run events and telemetry snapshots.
// *store.Store satisfies it.
type JournalSource interface {
	Events(ctx context.Context, filter store.JournalFilter) ([]core.RunEvent, error)
	LatestTelemetry(ctx context.Context) (*store.TelemetrySnapshot, error)
}

var (
	telemetrySource TelemetrySource
	journalSource   JournalSource
)

// SetTelemetrySource injects the live governor used by the telemetry endpoint.
func SetTelemetrySource(src TelemetrySource) {
	telemetrySource = src
}

// SetJournalSource injects the store used by the journal endpoint.
func SetJournalSource(src JournalSource) {
	journalSource = src
}

// TelemetryResponse combines live governor counters with scheduler state
// and the most recent persisted snapshot, when one exists.
type TelemetryResponse struct {
	Stats     core.Telemetry           `json:"stats"`
	Scheduler engine.Snapshot          `json:"scheduler"`
	Persisted *store.TelemetrySnapshot `json:"persisted,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// TelemetryHandler reports live request-governor statistics
func TelemetryHandler(w http.ResponseWriter, r *http.Request) {
	if telemetrySource == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("telemetry source not initialized"))
		return
	}

	response := TelemetryResponse{
		Stats:     telemetrySource.Telemetry(),
		Scheduler: telemetrySource.Snapshot(),
		Timestamp: time.Now().UTC(),
	}

	// The persisted snapshot is best effort; the live reading is the
	// endpoint's contract.
	if journalSource != nil {
		if persisted, err := journalSource.LatestTelemetry(r.Context()); err == nil {
			response.Persisted = persisted
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// JournalResponse wraps a page of run events
type JournalResponse struct {
	Events []core.RunEvent `json:"events"`
	Count  int             `json:"count"`
}

// JournalHandler lists persisted run events, newest first. It accepts
// kind, identity, since (RFC 3339) and limit query parameters.
func JournalHandler(w http.ResponseWriter, r *http.Request) {
	if journalSource == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("journal source not initialized"))
		return
	}

	filter, err := journalFilterFromQuery(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	events, err := journalSource.Events(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list run events"))
		return
	}
	if events == nil {
		events = []core.RunEvent{}
	}

	response := JournalResponse{
		Events: events,
		Count:  len(events),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func journalFilterFromQuery(r *http.Request) (store.JournalFilter, error) {
	var filter store.JournalFilter

	query := r.URL.Query()
	if kind := query.Get("kind"); kind != "" {
		filter.Kind = core.EventKind(kind)
	}
	filter.Identity = query.Get("identity")

	if since := query.Get("since"); since != "" {
		at, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, apperrors.NewInvalidInputError("since must be an RFC 3339 timestamp")
		}
		filter.Since = at
	}

	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, apperrors.NewInvalidInputError("limit must be a non-negative integer")
		}
		filter.Limit = n
	}

	return filter, nil
}

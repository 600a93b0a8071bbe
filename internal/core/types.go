package core

import "time"

// Priority classifies queued operations for slot dispatch.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// String returns the lowercase label for a priority class.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Interactive reports whether the priority belongs to the interactive
// dispatch class. High and normal share a class; only low waits behind it.
func (p Priority) Interactive() bool {
	return p != PriorityLow
}

// Telemetry is a point-in-time view of governor counters.
type Telemetry struct {
	TotalRequests uint64        `json:"total_requests"`
	Total429s     uint64        `json:"total_429s"`
	SystemPauses  uint64        `json:"system_pauses"`
	CurrentDelay  time.Duration `json:"current_delay"`
	RateLimitRate float64       `json:"rate_limit_rate"`
}

// EventKind identifies the type of a journaled run event.
type EventKind string

const (
	EventRotation    EventKind = "rotation"
	EventPause       EventKind = "pause"
	EventCreated     EventKind = "created"
	EventDeleted     EventKind = "deleted"
	EventForceDelete EventKind = "force_delete"
	EventExhausted   EventKind = "exhausted"
	EventReset       EventKind = "reset"
)

// RunEvent records an auditable orchestration decision.
type RunEvent struct {
	ID       int64     `json:"id,omitempty"`
	At       time.Time `json:"at"`
	Kind     EventKind `json:"kind"`
	Identity string    `json:"identity,omitempty"`
	Subject  string    `json:"subject,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// IdentitySnapshot reports the state of one credential slot.
type IdentitySnapshot struct {
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
	Exhausted     bool   `json:"exhausted"`
	Active        bool   `json:"active"`
}

// CapacitySnapshot reports the tracked quota state for the active identity.
type CapacitySnapshot struct {
	Count     int    `json:"count"`
	Cap       int    `json:"cap"`
	DefaultID string `json:"default_id,omitempty"`
	Tracked   int    `json:"tracked"`
}

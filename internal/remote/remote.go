// Package remote defines the boundary between the orchestration core and
// the remote API. The core never inspects payload semantics; it sees status
// codes, opaque bodies, and the minimal record shape needed for capacity
// tracking and consistency confirmation.
package remote

import (
	"context"
	"net/http"
	"time"
)

// Response is the slice of an HTTP exchange the core cares about.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Success reports whether the status code is in the 2xx range.
func (r *Response) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// RateLimited reports whether the backend throttled the call.
func (r *Response) RateLimited() bool {
	return r != nil && r.StatusCode == http.StatusTooManyRequests
}

// Record is one remote item as seen by the core: an identifier, the
// protected-default marker, an optional creation time, and the remaining
// fields as strings for name-based matching.
type Record struct {
	ID        string
	IsDefault bool
	CreatedAt time.Time
	Fields    map[string]string
}

// Field returns the named field value. "id" resolves to the identifier so
// callers can match on it without special-casing.
func (r Record) Field(name string) (string, bool) {
	if name == "id" {
		return r.ID, r.ID != ""
	}
	value, ok := r.Fields[name]
	return value, ok
}

// Credentials identify one account against the remote API.
type Credentials struct {
	Email    string `mapstructure:"email" yaml:"email"`
	Password string `mapstructure:"password" yaml:"password"`
}

// Reader lists the capacity-constrained items for the active identity.
type Reader interface {
	List(ctx context.Context) ([]Record, *Response, error)
}

// Deleter removes one item by id.
type Deleter interface {
	Delete(ctx context.Context, id string) (*Response, error)
}

// Creator writes one item. Payload semantics belong to the caller; the
// orchestration layer only routes and confirms the write.
type Creator interface {
	Create(ctx context.Context, fields map[string]string) (*Response, error)
}

// LoginClient authenticates one set of credentials. A 2xx response without
// a token is a hard authentication failure, not a retry candidate.
type LoginClient interface {
	Login(ctx context.Context, creds Credentials) (*Response, string, error)
}

package core

import (
	"errors"
	"fmt"
)

// ErrCapacityUnavailable reports that both cleanup tiers ran and the remote
// quota is still full. It is an expected outcome under load, distinct from
// the remote API's own quota-exceeded business error.
var ErrCapacityUnavailable = errors.New("capacity unavailable after cleanup")

// RateLimitError marks a single throttled call. The resilient executor
// consumes it for rotation; it never reaches business callers.
type RateLimitError struct {
	Status   int
	Identity string
}

func (e *RateLimitError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("rate limited (status %d, identity %s)", e.Status, e.Identity)
	}
	return fmt.Sprintf("rate limited (status %d)", e.Status)
}

// RotationExhaustedError is the terminal failure after every identity was
// throttled across all cooldown cycles. It signals infrastructure pressure,
// not a business-logic failure.
type RotationExhaustedError struct {
	Cycles     int
	LastStatus int
}

func (e *RotationExhaustedError) Error() string {
	return fmt.Sprintf("all identities rate limited after %d cooldown cycles (last status %d)", e.Cycles, e.LastStatus)
}

// AuthError reports an authentication failure for one identity slot.
type AuthError struct {
	Identity string
	Status   int
	Reason   string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authentication failed for %s (status %d): %s", e.Identity, e.Status, e.Reason)
	}
	return fmt.Sprintf("authentication failed for %s: %s", e.Identity, e.Reason)
}

// IsRateLimit reports whether err carries a rate-limit signal.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsRotationExhausted reports whether err is a terminal rotation failure.
func IsRotationExhausted(err error) bool {
	var re *RotationExhaustedError
	return errors.As(err, &re)
}

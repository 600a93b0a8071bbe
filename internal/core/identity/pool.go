// Package identity manages the two-slot credential pool: authentication
// with retry, active-identity rotation, and exhaustion bookkeeping. All
// rotation decisions are journaled so a run can be audited afterwards.
package identity

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/remote"
)

// Slot names. The pool holds exactly these two identities.
const (
	SlotPrimary   = "primary"
	SlotSecondary = "secondary"
)

// Login retry defaults. Throttled logins back off from a higher base than
// server errors; both back off exponentially per attempt.
const (
	DefaultLoginAttempts = 5
	DefaultThrottleBase  = 3 * time.Second
	DefaultServerErrBase = 2 * time.Second
	maxLoginJitter       = time.Second
)

// Journal receives rotation and exhaustion events for auditing.
type Journal interface {
	Append(ctx context.Context, event core.RunEvent) error
}

// Pool owns the primary and secondary identities. At most one is active at
// a time; switching is only permitted to an identity that is authenticated
// and not exhausted.
type Pool struct {
	Client           remote.LoginClient
	Primary          remote.Credentials
	Secondary        remote.Credentials
	Journal          Journal
	MaxLoginAttempts int
	ThrottleBase     time.Duration
	ServerErrBase    time.Duration
	Clock            func() time.Time
	Sleep            func(ctx context.Context, d time.Duration) error
	Rand             func() float64

	mu     sync.Mutex
	slots  [2]slot
	active int
	ready  bool
}

type slot struct {
	name          string
	creds         remote.Credentials
	token         string
	authenticated bool
	exhausted     bool
}

// Initialize authenticates both identities. It succeeds when at least one
// login works, activating the primary when possible, and fails fast when
// neither identity can authenticate.
func (p *Pool) Initialize(ctx context.Context) error {
	if p.Client == nil {
		return fmt.Errorf("login client is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	p.slots[0] = slot{name: SlotPrimary, creds: p.Primary}
	p.slots[1] = slot{name: SlotSecondary, creds: p.Secondary}
	p.active = 0
	p.ready = false
	p.mu.Unlock()

	var firstErr error
	for i := range p.slots {
		token, err := p.login(ctx, p.slotName(i), p.slotCreds(i))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.mu.Lock()
		p.slots[i].token = token
		p.slots[i].authenticated = true
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.slots[0].authenticated:
		p.active = 0
	case p.slots[1].authenticated:
		p.active = 1
	default:
		return fmt.Errorf("credential pool initialization failed, no identity authenticated: %w", firstErr)
	}
	p.ready = true
	return nil
}

// Switch rotates to the alternate identity when it is authenticated and
// not exhausted, reporting whether the active identity changed. An
// ineligible alternate makes this a journaled no-op, never an error.
func (p *Pool) Switch(reason string) bool {
	p.mu.Lock()

	if !p.ready {
		p.mu.Unlock()
		return false
	}

	from := p.slots[p.active]
	altIdx := 1 - p.active
	alt := p.slots[altIdx]
	if !alt.authenticated || alt.exhausted {
		p.mu.Unlock()
		p.journal(core.RunEvent{
			Kind:     core.EventRotation,
			Identity: from.name,
			Subject:  alt.name,
			Detail:   fmt.Sprintf("no eligible alternate (authenticated=%t exhausted=%t): %s", alt.authenticated, alt.exhausted, reason),
		})
		return false
	}

	p.active = altIdx
	p.mu.Unlock()

	p.journal(core.RunEvent{
		Kind:     core.EventRotation,
		Identity: alt.name,
		Subject:  from.name,
		Detail:   reason,
	})
	return true
}

// MarkExhausted flags the active identity as out of quota and attempts an
// automatic switch, reporting whether a usable alternate took over.
func (p *Pool) MarkExhausted(reason string) bool {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return false
	}
	name := p.slots[p.active].name
	p.slots[p.active].exhausted = true
	p.mu.Unlock()

	p.journal(core.RunEvent{
		Kind:     core.EventExhausted,
		Identity: name,
		Detail:   reason,
	})
	return p.Switch(reason)
}

// ResetExhaustion clears all exhaustion flags and returns to the primary
// identity when it is authenticated. Called after a successful cleanup
// cycle frees quota.
func (p *Pool) ResetExhaustion(reason string) {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return
	}
	for i := range p.slots {
		p.slots[i].exhausted = false
	}
	if p.slots[0].authenticated {
		p.active = 0
	}
	name := p.slots[p.active].name
	p.mu.Unlock()

	p.journal(core.RunEvent{
		Kind:     core.EventReset,
		Identity: name,
		Detail:   reason,
	})
}

// ActiveName returns the name of the active identity slot.
func (p *Pool) ActiveName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return ""
	}
	return p.slots[p.active].name
}

// Token returns the bearer token of the active identity. It is the hook
// remote clients consult per request, so rotation takes effect without
// rebuilding transports.
func (p *Pool) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return ""
	}
	return p.slots[p.active].token
}

// Snapshot reports both identity slots for diagnostics.
func (p *Pool) Snapshot() []core.IdentitySnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]core.IdentitySnapshot, 0, len(p.slots))
	for i, s := range p.slots {
		out = append(out, core.IdentitySnapshot{
			Name:          s.name,
			Authenticated: s.authenticated,
			Exhausted:     s.exhausted,
			Active:        p.ready && i == p.active,
		})
	}
	return out
}

// login retries throttled (429) and server-error (5xx) responses with
// exponential backoff, up to the attempt cap. A success response without a
// token is a hard failure, as is any other non-2xx status.
func (p *Pool) login(ctx context.Context, name string, creds remote.Credentials) (string, error) {
	attempts := p.maxLoginAttempts()
	lastStatus := 0

	for attempt := 0; attempt < attempts; attempt++ {
		resp, token, err := p.Client.Login(ctx, creds)
		if err != nil {
			return "", fmt.Errorf("login %s: %w", name, err)
		}

		switch {
		case resp.Success():
			if token == "" {
				return "", &core.AuthError{Identity: name, Status: resp.StatusCode, Reason: "login response missing token"}
			}
			return token, nil
		case resp.RateLimited():
			lastStatus = resp.StatusCode
			if err := p.sleep(ctx, p.loginDelay(p.throttleBase(), attempt, true)); err != nil {
				return "", fmt.Errorf("login %s: %w", name, err)
			}
		case resp.StatusCode >= 500:
			lastStatus = resp.StatusCode
			if err := p.sleep(ctx, p.loginDelay(p.serverErrBase(), attempt, false)); err != nil {
				return "", fmt.Errorf("login %s: %w", name, err)
			}
		default:
			return "", &core.AuthError{Identity: name, Status: resp.StatusCode, Reason: "login rejected"}
		}
	}

	return "", &core.AuthError{Identity: name, Status: lastStatus, Reason: fmt.Sprintf("login attempts exhausted after %d tries", attempts)}
}

// loginDelay computes base * 2^attempt, plus up to one second of jitter on
// the throttled path so both identities do not retry in lockstep.
func (p *Pool) loginDelay(base time.Duration, attempt int, jitter bool) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if jitter {
		d += time.Duration(p.rand() * float64(maxLoginJitter))
	}
	return d
}

func (p *Pool) journal(event core.RunEvent) {
	if p.Journal == nil {
		return
	}
	event.At = p.now()
	_ = p.Journal.Append(context.Background(), event)
}

func (p *Pool) slotName(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[i].name
}

func (p *Pool) slotCreds(i int) remote.Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[i].creds
}

func (p *Pool) maxLoginAttempts() int {
	if p.MaxLoginAttempts > 0 {
		return p.MaxLoginAttempts
	}
	return DefaultLoginAttempts
}

func (p *Pool) throttleBase() time.Duration {
	if p.ThrottleBase > 0 {
		return p.ThrottleBase
	}
	return DefaultThrottleBase
}

func (p *Pool) serverErrBase() time.Duration {
	if p.ServerErrBase > 0 {
		return p.ServerErrBase
	}
	return DefaultServerErrBase
}

func (p *Pool) rand() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

func (p *Pool) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
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

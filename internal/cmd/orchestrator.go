package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quotapilot/quotapilot/internal/config"
	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/core/capacity"
	"github.com/quotapilot/quotapilot/internal/core/consistency"
	"github.com/quotapilot/quotapilot/internal/core/engine"
	"github.com/quotapilot/quotapilot/internal/core/identity"
	"github.com/quotapilot/quotapilot/internal/core/store"
	errwrap "github.com/quotapilot/quotapilot/internal/errors"
	"github.com/quotapilot/quotapilot/internal/metrics"
	"github.com/quotapilot/quotapilot/internal/remote"
	"github.com/quotapilot/quotapilot/internal/remote/addrbook"
)

// runJournal forwards run events to the store and mirrors each one into
// telemetry counters. The store may be nil; events are then counted only.
type runJournal struct {
	store *store.Store
}

func (j runJournal) Append(ctx context.Context, event core.RunEvent) error {
	metrics.RecordRunEvent(event.Kind, event.Identity)
	if j.store == nil {
		return nil
	}
	return j.store.Append(ctx, event)
}

// orchestrator bundles the request pipeline for one run: a remote client
// bound to the pool's active token, the governor that paces calls, the
// executor that rotates identity on throttling, and the capacity and
// consistency layers on top.
type orchestrator struct {
	Client   *addrbook.Client
	Pool     *identity.Pool
	Governor *engine.Governor
	Executor *engine.Executor
	Tracker  *capacity.Tracker
	Registry *consistency.Registry
	Journal  runJournal
}

// newOrchestrator wires the pipeline from config. journal may be nil; the
// pipeline then runs without persisting rotation and cleanup events.
func newOrchestrator(cfg *config.Config, journal *store.Store) (*orchestrator, error) {
	if cfg == nil {
		return nil, errwrap.NewConfigInvalidError("configuration is required")
	}

	baseURL := strings.TrimSpace(cfg.API.BaseURL)
	if baseURL == "" {
		return nil, errwrap.NewConfigInvalidError(fmt.Sprintf(
			"api.base_url is not set; configure it or export %s_API_BASE_URL", config.EnvPrefix))
	}

	creds, err := config.LoadCredentials(cfg.Pool.CredentialsFile)
	if err != nil {
		return nil, err
	}

	client := addrbook.NewClient(baseURL)
	if cfg.API.Timeout > 0 {
		client.Timeout = cfg.API.Timeout
	}

	pool := &identity.Pool{
		Client:           client,
		Primary:          creds.Primary,
		Secondary:        creds.Secondary,
		MaxLoginAttempts: cfg.Pool.LoginAttempts,
		ThrottleBase:     cfg.Pool.ThrottleBase,
		ServerErrBase:    cfg.Pool.ServerErrBase,
	}
	// Tokens are read per request so rotation takes effect mid-flight.
	client.TokenSource = pool.Token

	jrnl := runJournal{store: journal}
	governor := newGovernor(cfg, jrnl)

	tracker := &capacity.Tracker{
		Governor:   governor,
		Journal:    jrnl,
		Cap:        cfg.Capacity.Cap,
		Margin:     cfg.Capacity.Margin,
		SweepLimit: cfg.Capacity.SweepLimit,
		RetryPause: cfg.Capacity.RetryPause,
	}
	pool.Journal = jrnl

	return &orchestrator{
		Client:   client,
		Pool:     pool,
		Governor: governor,
		Executor: &engine.Executor{
			Governor:     governor,
			Pool:         pool,
			CooldownBase: cfg.Executor.CooldownBase,
			MaxCycles:    cfg.Executor.MaxCycles,
		},
		Tracker: tracker,
		Registry: &consistency.Registry{
			Governor:    governor,
			MaxAttempts: cfg.Consistency.MaxAttempts,
			BaseDelay:   cfg.Consistency.BaseDelay,
		},
		Journal: jrnl,
	}, nil
}

// newGovernor builds a request governor from config and journals its
// system pauses.
func newGovernor(cfg *config.Config, journal runJournal) *engine.Governor {
	governor := &engine.Governor{
		MaxConcurrent:  cfg.Governor.MaxConcurrent,
		MinDelay:       cfg.Governor.MinDelay,
		MaxDelay:       cfg.Governor.MaxDelay,
		BackoffFactor:  cfg.Governor.BackoffFactor,
		DecayFactor:    cfg.Governor.DecayFactor,
		PauseThreshold: cfg.Governor.PauseThreshold,
		PauseDuration:  cfg.Governor.PauseDuration,
		WindowSpan:     cfg.Governor.WindowSpan,
	}
	governor.OnPause = func(until time.Time) {
		_ = journal.Append(context.Background(), core.RunEvent{
			Kind:   core.EventPause,
			Detail: "system pause until " + until.UTC().Format(time.RFC3339),
		})
	}
	return governor
}

// journal appends a run event, dropping it when no store is open.
func (o *orchestrator) journal(ctx context.Context, event core.RunEvent) {
	_ = o.Journal.Append(ctx, event)
}

// connect authenticates the pool and aligns the capacity tracker with the
// remote state. Every command that issues governed traffic starts here.
func (o *orchestrator) connect(ctx context.Context) error {
	if err := o.Pool.Initialize(ctx); err != nil {
		return err
	}
	return o.Tracker.Reconcile(ctx, o.Client)
}

// list performs one governed, rotation-aware read of the remote items.
func (o *orchestrator) list(ctx context.Context) ([]remote.Record, error) {
	var records []remote.Record
	resp, err := o.Executor.Run(ctx, core.PriorityNormal, "list", func(ctx context.Context) (*remote.Response, error) {
		recs, resp, err := o.Client.List(ctx)
		records = recs
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, fmt.Errorf("list returned status %d", resp.StatusCode)
	}
	return records, nil
}

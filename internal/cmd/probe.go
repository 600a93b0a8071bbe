package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/core/consistency"
	"github.com/quotapilot/quotapilot/internal/observability"
	"github.com/quotapilot/quotapilot/internal/remote"
)

var probeCount int

// probeRound captures one create→confirm→delete round trip.
type probeRound struct {
	Marker  string
	ID      string
	Create  time.Duration
	Confirm time.Duration
	Delete  time.Duration
	Visible bool
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Measure remote latency and propagation lag",
	Long: `Run governed create, confirm, delete cycles against the remote API and
report per-step latency plus how long writes take to become visible.

Probe items are tracked and removed. An item left behind by a propagation
failure is picked up by the next sweep.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if probeCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}

		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		db, err := openStoreWith(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		orch, err := newOrchestrator(cfg, db)
		if err != nil {
			return err
		}
		if err := orch.connect(ctx); err != nil {
			return err
		}

		results := make([]probeRound, 0, probeCount)
		var runErr error
		for i := 0; i < probeCount; i++ {
			observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Probing...", i+1, probeCount))
			round, err := runProbeRound(ctx, orch, i+1)
			results = append(results, round)
			if err != nil {
				runErr = err
				break
			}
		}

		_, _ = fmt.Fprint(os.Stdout, ascii.DrawBox(probeSummary(results), 0))
		return runErr
	},
}

func runProbeRound(ctx context.Context, orch *orchestrator, round int) (probeRound, error) {
	marker := fmt.Sprintf("probe-%s", uuid.New().String()[:8])
	result := probeRound{Marker: marker}

	if err := orch.Tracker.EnsureCapacity(ctx, orch.Client, orch.Client); err != nil {
		return result, fmt.Errorf("round %d: ensure capacity: %w", round, err)
	}

	fields := map[string]string{"firstName": "quotapilot", "lastName": marker}

	start := time.Now()
	resp, err := orch.Executor.Run(ctx, core.PriorityNormal, "probe.create", func(ctx context.Context) (*remote.Response, error) {
		return orch.Client.Create(ctx, fields)
	})
	result.Create = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("round %d: create: %w", round, err)
	}
	if !resp.Success() {
		return result, fmt.Errorf("round %d: create returned status %d", round, resp.StatusCode)
	}

	start = time.Now()
	rec, err := orch.Registry.Confirm(ctx, orch.Client, consistency.Query{Field: "lastName", Value: marker})
	result.Confirm = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("round %d: confirm: %w", round, err)
	}
	if rec == nil {
		// Write accepted but never became visible. Without an id there is
		// nothing to delete; the next sweep reclaims it.
		return result, nil
	}
	result.Visible = true
	result.ID = rec.ID
	orch.Tracker.TrackCreated(rec.ID)
	orch.journal(ctx, core.RunEvent{
		Kind:     core.EventCreated,
		Identity: orch.Pool.ActiveName(),
		Subject:  rec.ID,
		Detail:   "probe item confirmed visible",
	})

	start = time.Now()
	resp, err = orch.Executor.Run(ctx, core.PriorityNormal, "probe.delete", func(ctx context.Context) (*remote.Response, error) {
		return orch.Client.Delete(ctx, rec.ID)
	})
	result.Delete = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("round %d: delete: %w", round, err)
	}
	if resp.Success() {
		orch.Tracker.TrackDeleted(rec.ID)
		orch.journal(ctx, core.RunEvent{
			Kind:     core.EventDeleted,
			Identity: orch.Pool.ActiveName(),
			Subject:  rec.ID,
			Detail:   "probe item removed",
		})
	}

	return result, nil
}

// probeSummary renders the per-round lines and the aggregate tail.
func probeSummary(results []probeRound) string {
	lines := []string{"Probe", ""}
	if len(results) == 0 {
		lines = append(lines, "(no rounds completed)")
		return strings.Join(lines, "\n")
	}

	visible := 0
	var create, confirm time.Duration
	for _, r := range results {
		status := "never visible"
		if r.Visible {
			visible++
			status = fmt.Sprintf("visible after %s", r.Confirm.Round(time.Millisecond))
		}
		lines = append(lines, fmt.Sprintf("%s: create %s, %s", r.Marker, r.Create.Round(time.Millisecond), status))
		create += r.Create
		confirm += r.Confirm
	}

	n := time.Duration(len(results))
	lines = append(lines, "", fmt.Sprintf("%d/%d visible, avg create %s, avg confirm %s",
		visible, len(results), (create / n).Round(time.Millisecond), (confirm / n).Round(time.Millisecond)))
	return strings.Join(lines, "\n")
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeCount, "count", 1, "Number of probe rounds")
}

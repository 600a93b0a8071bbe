package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/observability"
	"github.com/quotapilot/quotapilot/internal/output"
	"github.com/quotapilot/quotapilot/internal/remote"
)

var (
	sweepDryRun bool
	sweepOutput string
	sweepOut    string
	sweepOutDir string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Free quota slots on the remote API",
	Long: `Reconcile the remote quota state and, when the cap is reached, free slots
in two tiers: items created by this tool first, then the newest non-default
items up to the configured sweep limit. The protected default item is never
deleted.

With --dry-run the remote state is read but nothing is deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(sweepOutput)
		if err != nil {
			return err
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

		sink, err := resolveSink(sweepOut, sweepOutDir, "sweep", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		before := orch.Tracker.Snapshot()

		if sweepDryRun {
			records, err := orch.list(ctx)
			if err != nil {
				return err
			}
			candidates := sweepCandidates(records, before.DefaultID, cfg.Capacity.SweepLimit)
			return writeSweepPlan(format, sink.writer, before, candidates)
		}

		err = orch.Tracker.EnsureCapacity(ctx, orch.Client, orch.Client)
		if errors.Is(err, core.ErrCapacityUnavailable) {
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable,
				"Quota still full after both cleanup tiers", err)
		}
		if err != nil {
			return err
		}

		after := orch.Tracker.Snapshot()
		freed := before.Count - after.Count
		if freed < 0 {
			freed = 0
		}
		return writeSweepResult(format, sink.writer, after, freed)
	},
}

// sweepCandidates returns the ids a forced cleanup would target: newest
// non-default items first, capped at limit. Selection order matches the
// capacity tracker's forced sweep.
func sweepCandidates(records []remote.Record, defaultID string, limit int) []string {
	candidates := make([]remote.Record, 0, len(records))
	for _, rec := range records {
		if rec.IsDefault || rec.ID == "" || rec.ID == defaultID {
			continue
		}
		candidates = append(candidates, rec)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, 0, len(candidates))
	for _, rec := range candidates {
		ids = append(ids, rec.ID)
	}
	return ids
}

func writeSweepPlan(format output.Format, w io.Writer, snap core.CapacitySnapshot, candidates []string) error {
	wouldClean := snap.Count >= snap.Cap

	if format == output.FormatJSON {
		result := map[string]any{
			"count":       snap.Count,
			"cap":         snap.Cap,
			"tracked":     snap.Tracked,
			"would_clean": wouldClean,
			"candidates":  candidates,
			"dry_run":     true,
		}
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if !wouldClean {
		_, err := fmt.Fprintf(w, "Dry run: %d/%d used, below cap, nothing to free\n", snap.Count, snap.Cap)
		return err
	}
	_, err := fmt.Fprintf(w, "Dry run: %d/%d used\nTracked this run: %d\nWould force-delete: %s\n",
		snap.Count, snap.Cap, snap.Tracked, strings.Join(candidates, ", "))
	return err
}

func writeSweepResult(format output.Format, w io.Writer, snap core.CapacitySnapshot, freed int) error {
	if format == output.FormatJSON {
		result := map[string]any{
			"count":   snap.Count,
			"cap":     snap.Cap,
			"freed":   freed,
			"dry_run": false,
		}
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if freed == 0 {
		_, err := fmt.Fprintf(w, "Nothing freed: %d/%d used\n", snap.Count, snap.Cap)
		return err
	}
	_, err := fmt.Fprintf(w, "Freed %d slot(s): %d/%d used\n", freed, snap.Count, snap.Cap)
	return err
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Show what would be deleted without deleting")
	sweepCmd.Flags().StringVar(&sweepOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	sweepCmd.Flags().StringVar(&sweepOut, "out", "", "Write output to a file (default stdout)")
	sweepCmd.Flags().StringVar(&sweepOutDir, "out-dir", "", "Write output to a directory")
}

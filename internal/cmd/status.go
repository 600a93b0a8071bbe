package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotapilot/quotapilot/internal/output"
)

var (
	statusOutput string
	statusOut    string
	statusOutDir string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report governor, identity, and capacity state",
	Long: `Authenticate the credential pool, reconcile the remote quota state, and
report the governor telemetry, identity snapshot, and capacity snapshot
observed during this run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(statusOutput)
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

		capSnap := orch.Tracker.Snapshot()
		report := output.StatusReport{
			TakenAt:    time.Now().UTC(),
			Telemetry:  orch.Governor.Telemetry(),
			Identities: orch.Pool.Snapshot(),
			Capacity:   &capSnap,
		}

		rendered, err := output.FormatStatus(format, report)
		if err != nil {
			return err
		}

		sink, err := resolveSink(statusOut, statusOutDir, "status", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	statusCmd.Flags().StringVar(&statusOut, "out", "", "Write output to a file (default stdout)")
	statusCmd.Flags().StringVar(&statusOutDir, "out-dir", "", "Write output to a directory")
}

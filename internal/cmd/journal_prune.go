package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotapilot/quotapilot/internal/output"
)

var (
	journalPruneBefore string
	journalPruneYes    bool
	journalPruneDryRun bool
	journalPruneOutput string
	journalPruneOut    string
	journalPruneOutDir string
)

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journaled run events older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(journalPruneOutput)
		if err != nil {
			return err
		}

		before, err := parseCutoff(journalPruneBefore, time.Now())
		if err != nil {
			return err
		}
		if before.IsZero() {
			return errors.New("specify --before (duration like 720h, or RFC3339)")
		}

		if !journalPruneYes && !journalPruneDryRun {
			return errors.New("pruning requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountEventsBefore(cmd.Context(), before)
		if err != nil {
			return err
		}

		sink, err := resolveSink(journalPruneOut, journalPruneOutDir, "journal.prune", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if journalPruneDryRun {
			return writeJournalPruneResult(format, sink.writer, matched, 0, true)
		}

		deleted, err := db.PruneEvents(cmd.Context(), before)
		if err != nil {
			return err
		}

		return writeJournalPruneResult(format, sink.writer, matched, deleted, false)
	},
}

func writeJournalPruneResult(format output.Format, w io.Writer, matched, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d event(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d event(s)\n", deleted, matched)
	return err
}

func init() {
	journalPruneCmd.Flags().StringVar(&journalPruneBefore, "before", "", "Delete events older than this cutoff (duration like 720h, or RFC3339)")
	journalPruneCmd.Flags().BoolVar(&journalPruneYes, "yes", false, "Confirm destructive prune")
	journalPruneCmd.Flags().BoolVar(&journalPruneDryRun, "dry-run", false, "Show what would be deleted")
	journalPruneCmd.Flags().StringVar(&journalPruneOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	journalPruneCmd.Flags().StringVar(&journalPruneOut, "out", "", "Write output to a file (default stdout)")
	journalPruneCmd.Flags().StringVar(&journalPruneOutDir, "out-dir", "", "Write output to a directory")
}

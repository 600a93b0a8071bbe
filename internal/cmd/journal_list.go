package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotapilot/quotapilot/internal/core"
	"github.com/quotapilot/quotapilot/internal/core/store"
	"github.com/quotapilot/quotapilot/internal/output"
)

var (
	journalListOutput   string
	journalListOut      string
	journalListOutDir   string
	journalListKind     string
	journalListIdentity string
	journalListSince    string
	journalListLimit    int
)

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled run events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(journalListOutput)
		if err != nil {
			return err
		}

		since, err := parseCutoff(journalListSince, time.Now())
		if err != nil {
			return err
		}
		if journalListLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		events, err := db.Events(cmd.Context(), store.JournalFilter{
			Kind:     core.EventKind(strings.TrimSpace(journalListKind)),
			Identity: strings.TrimSpace(journalListIdentity),
			Since:    since,
			Limit:    journalListLimit,
		})
		if err != nil {
			return err
		}

		rendered, err := output.FormatEvents(format, events)
		if err != nil {
			return err
		}

		sink, err := resolveSink(journalListOut, journalListOutDir, "journal.list", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	journalListCmd.Flags().StringVar(&journalListOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	journalListCmd.Flags().StringVar(&journalListOut, "out", "", "Write output to a file (default stdout)")
	journalListCmd.Flags().StringVar(&journalListOutDir, "out-dir", "", "Write output to a directory")
	journalListCmd.Flags().StringVar(&journalListKind, "kind", "", "Filter by event kind (rotation, pause, created, deleted, force_delete, exhausted, reset)")
	journalListCmd.Flags().StringVar(&journalListIdentity, "identity", "", "Filter by identity slot (primary, secondary)")
	journalListCmd.Flags().StringVar(&journalListSince, "since", "", "Only events after this cutoff (duration like 24h, or RFC3339)")
	journalListCmd.Flags().IntVar(&journalListLimit, "limit", 0, "Maximum events to return (default 100)")
}

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the persisted run journal",
	Long: `Inspect the persisted run journal: identity rotations, system pauses,
quota cleanups, and exhaustion markers recorded by past runs.`,
}

// parseCutoff accepts either a relative duration ("24h", "30m") measured
// back from now, or an absolute RFC3339 timestamp.
func parseCutoff(value string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(trimmed); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("duration must be positive: %s", trimmed)
		}
		return now.Add(-d), nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cutoff %q: use a duration like 24h or an RFC3339 timestamp", trimmed)
	}
	return ts, nil
}

func init() {
	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalPruneCmd)
	rootCmd.AddCommand(journalCmd)
}

package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/quotapilot/quotapilot/internal/core"
)

// StatusReport bundles the three snapshots the status command shows.
type StatusReport struct {
	TakenAt    time.Time               `json:"taken_at"`
	Telemetry  core.Telemetry          `json:"telemetry"`
	Identities []core.IdentitySnapshot `json:"identities,omitempty"`
	Capacity   *core.CapacitySnapshot  `json:"capacity,omitempty"`
}

// FormatStatus renders a status report in the requested format.
func FormatStatus(format Format, report StatusReport) (string, error) {
	if format == FormatJSON {
		return RenderJSON(report)
	}

	sections := []string{telemetryTable(report.Telemetry)}
	if len(report.Identities) > 0 {
		sections = append(sections, identityTable(report.Identities))
	}
	if report.Capacity != nil {
		sections = append(sections, capacityTable(*report.Capacity))
	}
	return strings.Join(sections, "\n"), nil
}

// FormatEvents renders journal events in the requested format.
func FormatEvents(format Format, events []core.RunEvent) (string, error) {
	if format == FormatJSON {
		if events == nil {
			events = []core.RunEvent{}
		}
		return RenderJSON(events)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Run Journal")
	t.AppendHeader(table.Row{"At", "Kind", "Identity", "Subject", "Detail"})

	for _, event := range events {
		t.AppendRow(table.Row{
			event.At.UTC().Format(time.RFC3339),
			string(event.Kind),
			orDash(event.Identity),
			orDash(event.Subject),
			orDash(event.Detail),
		})
	}

	if len(events) == 0 {
		t.AppendRow(table.Row{"-", "-", "-", "-", "(no events)"})
	}

	return t.Render(), nil
}

func telemetryTable(stats core.Telemetry) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Governor")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"total requests", stats.TotalRequests},
		{"throttled (429)", stats.Total429s},
		{"system pauses", stats.SystemPauses},
		{"current delay", stats.CurrentDelay.String()},
		{"rate-limit rate", fmt.Sprintf("%.1f%%", stats.RateLimitRate*100)},
	})
	return t.Render()
}

func identityTable(identities []core.IdentitySnapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Identities")
	t.AppendHeader(table.Row{"Slot", "Authenticated", "Exhausted", "Active"})
	for _, id := range identities {
		t.AppendRow(table.Row{id.Name, yesNo(id.Authenticated), yesNo(id.Exhausted), yesNo(id.Active)})
	}
	return t.Render()
}

func capacityTable(snap core.CapacitySnapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Capacity")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"used", fmt.Sprintf("%d/%d", snap.Count, snap.Cap)},
		{"default item", orDash(snap.DefaultID)},
		{"created this run", snap.Tracked},
	})
	return t.Render()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

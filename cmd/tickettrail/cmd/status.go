package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

var (
	statusJSON bool
	statusYAML bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the workflow status",
	Long:  "Show the phase, queue and counters of the workflow, asking the runner when one is listening.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print as JSON")
	statusCmd.Flags().BoolVar(&statusYAML, "yaml", false, "print as YAML")
	statusCmd.MarkFlagsMutuallyExclusive("json", "yaml")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	res, err := runCommand(cmd.Context(), control.ActionStatus, "")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Ignored || res.Status == nil {
		printResult(out, res)
		return nil
	}

	switch {
	case statusJSON:
		return outputJSON(out, res.Status)
	case statusYAML:
		return outputYAML(out, res.Status)
	}
	renderStatus(out, newStyles(noColor), res.Status)
	return nil
}

func renderStatus(w io.Writer, st styles, r *control.StatusReport) {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(st.label.Render(label) + " " + value + "\n")
	}

	b.WriteString(st.title.Render("tickettrail "+r.InstanceID) + "\n\n")
	row("phase", phaseStyle(st, r.Phase).Render(string(r.Phase)))
	row("sheet", orDash(r.SheetID))
	if r.RecordTypeOverride != "" {
		row("record type", string(r.RecordTypeOverride))
	}
	if r.CurrentRow != nil {
		row("current row", fmt.Sprintf("%d", *r.CurrentRow))
	}
	row("queue", formatQueue(r.Queue))

	s := r.Stats
	row("processed", fmt.Sprintf("%d (%s ok, %s failed)",
		s.Processed,
		st.ok.Render(fmt.Sprintf("%d", s.Success)),
		st.fail.Render(fmt.Sprintf("%d", s.Failed))))
	if s.Processed > 0 {
		row("success rate", fmt.Sprintf("%.1f%%", s.SuccessRate))
		row("avg per row", s.AverageTime.Round(time.Second).String())
	}

	if r.Search != nil {
		row("searching", fmt.Sprintf("%s (row %d, %s)", r.Search.ExternalID, r.Search.RowID, r.Search.Status))
	}

	if len(r.History) > 0 {
		b.WriteString("\n" + st.title.Render("recent rows") + "\n")
		for i := len(r.History) - 1; i >= 0; i-- {
			h := r.History[i]
			line := fmt.Sprintf("%s  row %-5d %-9s %s", h.At.Local().Format("15:04:05"), h.Row,
				rowStatusStyle(st, h.Status).Render(string(h.Status)), h.ExternalID)
			if h.Reason != "" {
				line += st.muted.Render("  " + h.Reason)
			}
			b.WriteString(line + "\n")
		}
	}

	fmt.Fprintln(w, st.box.Render(strings.TrimRight(b.String(), "\n")))
}

func formatQueue(q []core.RowID) string {
	if len(q) == 0 {
		return "empty"
	}
	const shown = 10
	parts := make([]string, 0, shown)
	for i, id := range q {
		if i == shown {
			break
		}
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	s := strings.Join(parts, ", ")
	if len(q) > shown {
		s += fmt.Sprintf(" … (+%d)", len(q)-shown)
	}
	return fmt.Sprintf("%d rows: %s", len(q), s)
}

func phaseStyle(st styles, p core.Phase) lipgloss.Style {
	switch p {
	case core.PhaseStopped, core.PhaseIdle:
		return st.muted
	case core.PhasePaused, core.PhaseAwaitingInput:
		return st.warn
	default:
		return st.ok
	}
}

func rowStatusStyle(st styles, s core.RowStatus) lipgloss.Style {
	switch s {
	case core.RowStatusSuccess:
		return st.ok
	case core.RowStatusPartial, core.RowStatusPartialSuccess:
		return st.warn
	default:
		return st.fail
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

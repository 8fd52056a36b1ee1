package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/picklr-io/sysconverge/internal/history"
	"github.com/picklr-io/sysconverge/internal/ir"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	createStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	removeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	changeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// paint renders text in style unless color is disabled.
func paint(style lipgloss.Style, text string) string {
	if flags.noColor {
		return text
	}
	return style.Render(text)
}

func statusStyle(status ir.Status) lipgloss.Style {
	switch status {
	case ir.StatusApplied:
		return createStyle
	case ir.StatusFailed:
		return failStyle
	case ir.StatusBlocked:
		return changeStyle
	default:
		return dimStyle
	}
}

// renderPlan prints the changes a plan expects, the alias diff and a summary.
func renderPlan(w io.Writer, plan *ir.Plan) {
	for _, change := range plan.Changes {
		switch {
		case change.Error != "":
			fmt.Fprintf(w, "  %s %s (%s)\n", paint(failStyle, "!"), change.ID, change.Kind)
			fmt.Fprintf(w, "      %s\n", paint(dimStyle, change.Error))
		case change.Action == ir.ActionCreate:
			fmt.Fprintf(w, "  %s %s (%s)\n", paint(createStyle, "+"), change.ID, change.Kind)
		case change.Action == ir.ActionRemove:
			fmt.Fprintf(w, "  %s %s (%s)\n", paint(removeStyle, "-"), change.ID, change.Kind)
		}
	}

	if len(plan.Aliases) > 0 {
		names := make([]string, 0, len(plan.Aliases))
		for name := range plan.Aliases {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintf(w, "\n%s\n", paint(headerStyle, "Mail aliases:"))
		for _, name := range names {
			diff := plan.Aliases[name]
			switch {
			case len(diff.Before) == 0:
				fmt.Fprintf(w, "  %s %s: %s\n", paint(createStyle, "+"), name, strings.Join(diff.After, ", "))
			case len(diff.After) == 0:
				fmt.Fprintf(w, "  %s %s: %s\n", paint(removeStyle, "-"), name, strings.Join(diff.Before, ", "))
			default:
				fmt.Fprintf(w, "  %s %s: %s -> %s\n", paint(changeStyle, "~"), name,
					strings.Join(diff.Before, ", "), strings.Join(diff.After, ", "))
			}
		}
	}

	s := plan.Summary
	fmt.Fprintf(w, "\n%s %d to converge, %d to remove, %d unchanged, %d errors.\n",
		paint(headerStyle, "Plan:"), s.Create, s.Remove, s.NoOp, s.Errors)
}

// planHasChanges reports whether applying the plan would do anything.
func planHasChanges(plan *ir.Plan) bool {
	s := plan.Summary
	return s.Create > 0 || s.Remove > 0 || s.Errors > 0
}

// renderEvent prints one terminal apply event as a progress line.
func renderEvent(w io.Writer, id string, status ir.Status, d time.Duration) {
	fmt.Fprintf(w, "  %-8s %s %s\n", paint(statusStyle(status), string(status)), id,
		paint(dimStyle, d.Round(time.Millisecond).String()))
}

// renderReport prints every failed or blocked resource with its reason
// chain, then the summary.
func renderReport(w io.Writer, report *ir.RunReport) {
	for _, res := range report.Results {
		if res.Status != ir.StatusFailed && res.Status != ir.StatusBlocked {
			continue
		}
		fmt.Fprintf(w, "\n%s %s\n", paint(statusStyle(res.Status), strings.ToUpper(string(res.Status))), res.ID)
		for i, reason := range res.Reason {
			fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", i+1), reason)
		}
	}

	s := report.Summary
	elapsed := report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(w, "\n%s %d applied, %d skipped, %d failed, %d blocked (run %s, %s).\n",
		paint(headerStyle, "Run complete:"), s.Applied, s.Skipped, s.Failed, s.Blocked, report.RunID, elapsed)
}

// renderRuns prints ledger rows, newest first.
func renderRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		outcome := paint(createStyle, "ok    ")
		if !r.Succeeded() {
			outcome = paint(failStyle, "failed")
		}
		fmt.Fprintf(w, "%s  %s  %s  applied=%d skipped=%d failed=%d blocked=%d  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), outcome, r.RunID,
			r.Summary.Applied, r.Summary.Skipped, r.Summary.Failed, r.Summary.Blocked, r.Host)
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs",
	Long: `Lists recent runs from the run history, newest first. With a run id,
shows every resource result of that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	dir, _, err := resolveTarget(nil)
	if err != nil {
		return err
	}
	store, err := openHistory(dir)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if store == nil {
		return fmt.Errorf("history is disabled")
	}
	defer store.Close()

	if len(args) == 0 {
		runs, err := store.List(ctx, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		renderRuns(out, runs)
		return nil
	}

	report, host, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run %s on %s at %s\n", report.RunID, host, report.StartedAt.Local().Format("2006-01-02 15:04:05"))
	for _, res := range report.Results {
		renderEvent(out, res.ID, res.Status, res.Duration)
	}
	renderReport(out, report)
	return nil
}

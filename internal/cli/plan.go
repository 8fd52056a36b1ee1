package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var planOutFile string

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Show what apply would change",
	Long: `Inspects every declared resource without changing the host and shows:
  • Resources to be created or updated
  • Resources to be removed
  • Mail alias entries before and after aggregation`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan to a YAML file")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	p, err := loadProject(ctx, args)
	if err != nil {
		return err
	}
	m, _, err := p.prepare()
	if err != nil {
		return err
	}
	eng, err := p.newEngine(ctx)
	if err != nil {
		return err
	}

	plan, err := eng.Plan(ctx, m)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if planHasChanges(plan) {
		renderPlan(out, plan)
	} else {
		fmt.Fprintln(out, "No changes. The host is converged.")
	}

	if planOutFile != "" {
		data, err := yaml.Marshal(plan)
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, data, 0o644); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
		fmt.Fprintf(out, "\nPlan written to %s\n", planOutFile)
	}
	return nil
}

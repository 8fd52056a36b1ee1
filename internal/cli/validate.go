package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate the declaration",
	Long: `Loads the declaration, expands it into resources and checks the
dependency graph for unknown references and cycles. The host is not touched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	p, err := loadProject(cmd.Context(), args)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintf(out, "Checking %s... ", filepath.Base(p.entryPoint))

	_, sched, err := p.prepare()
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintln(out, "OK")

	fmt.Fprintf(out, "\nDeclaration is valid: %d accounts, %d resources.\n", len(p.cfg.Accounts), len(sched.Ordered()))
	return nil
}

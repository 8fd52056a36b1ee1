package cli

import (
	"context"
	"time"

	"github.com/picklr-io/sysconverge/internal/logging"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	logLevel       string
	logFormat      string
	noColor        bool
	adapter        string
	container      string
	parallelism    int
	timeout        time.Duration
	autoApprove    bool
	statePath      string
	historyPath    string
	aliasFile      string
	skipNewaliases bool
}

var flags rootFlags

var rootCmd = &cobra.Command{
	Use:   "sysconverge",
	Short: "Declarative convergence of sysadmin accounts",
	Long: `sysconverge converges a host towards a declaration of sysadmin accounts.

Each account expands to its login, home directory, profile, SSH keys,
sudoers entry and password lock. Mail aliases of every account are merged
into the alias file after all accounts have converged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.InitWriter(cmd.ErrOrStderr(), flags.logLevel, flags.logFormat)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which cancels in-flight
// convergence when done.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "text", "Log format (text, json)")
	pf.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	pf.StringVar(&flags.adapter, "adapter", "system", "Host adapter (docker, null, system)")
	pf.StringVar(&flags.container, "container", "", "Target container for the docker adapter")
	pf.IntVar(&flags.parallelism, "parallelism", 1, "Resources converged at once within a stage")
	pf.DurationVar(&flags.timeout, "timeout", 0, "Per-resource timeout (default 30m)")
	pf.BoolVar(&flags.autoApprove, "auto-approve", false, "Skip interactive approval of the plan before applying")
	pf.StringVar(&flags.statePath, "state", "", "Local state file (default .sysconverge/state.yaml in the project)")
	pf.StringVar(&flags.historyPath, "history", "", "Run history database (default .sysconverge/history.db in the project, \"off\" to disable)")
	pf.StringVar(&flags.aliasFile, "alias-file", "", "Mail alias file, overriding the declaration")
	pf.BoolVar(&flags.skipNewaliases, "skip-newaliases", false, "Do not run newaliases after rewriting the alias file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/picklr-io/sysconverge/internal/state"
	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Show the state and the last run",
	Long:  `Displays the state record and the report of the last apply.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// without a readable declaration fall back to the local state file
	var backend state.Backend
	if p, err := loadProject(ctx, args); err == nil {
		if backend, err = p.backend(); err != nil {
			return fmt.Errorf("failed to open state backend: %w", err)
		}
	} else {
		dir, _, rerr := resolveTarget(args)
		if rerr != nil {
			return rerr
		}
		backend = state.NewManager(statePath(dir))
	}

	s, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if showJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "State: version=%d serial=%d lineage=%s\n", s.Version, s.Serial, s.Lineage)
	if s.Host != "" {
		fmt.Fprintf(out, "Host: %s\n", s.Host)
	}
	if s.LastRun == nil {
		fmt.Fprintln(out, "\nNo runs recorded.")
		return nil
	}

	fmt.Fprintf(out, "\nLast run %s at %s\n", s.LastRun.RunID, s.LastRun.StartedAt.Local().Format("2006-01-02 15:04:05"))
	for _, res := range s.LastRun.Results {
		renderEvent(out, res.ID, res.Status, res.Duration)
	}
	renderReport(out, s.LastRun)
	return nil
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/picklr-io/sysconverge/internal/engine"
	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/picklr-io/sysconverge/internal/logging"
	"github.com/picklr-io/sysconverge/internal/notify"
	"github.com/picklr-io/sysconverge/internal/state"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Converge the host towards the declaration",
	Long: `Converges every declared resource stage by stage. Resources whose
dependencies failed are reported as blocked. The command exits non-zero
when any resource failed or was blocked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

// RunFailedError is returned when a run finished with failed or blocked
// resources.
type RunFailedError struct {
	Summary ir.RunSummary
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("apply finished with %d failed and %d blocked resources", e.Summary.Failed, e.Summary.Blocked)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	p, err := loadProject(ctx, args)
	if err != nil {
		return err
	}
	m, sched, err := p.prepare()
	if err != nil {
		return err
	}
	eng, err := p.newEngine(ctx)
	if err != nil {
		return err
	}

	backend, err := p.backend()
	if err != nil {
		return fmt.Errorf("failed to open state backend: %w", err)
	}
	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	if !flags.autoApprove {
		plan, err := eng.Plan(ctx, m)
		if err != nil {
			return fmt.Errorf("plan generation failed: %w", err)
		}
		if !planHasChanges(plan) {
			fmt.Fprintln(out, "No changes. The host is converged.")
			return nil
		}
		fmt.Fprintln(out, "sysconverge will perform the following actions:")
		fmt.Fprintln(out)
		renderPlan(out, plan)

		if !confirm(cmd.InOrStdin(), out) {
			fmt.Fprintln(out, "Apply cancelled.")
			return nil
		}
	}

	fmt.Fprintf(out, "\nConverging %d resources...\n", len(sched.Ordered()))
	var mu sync.Mutex
	eng.Callback = func(ev engine.ApplyEvent) {
		if ev.Status == "started" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		renderEvent(out, ev.Address, ir.Status(ev.Status), ev.Duration)
	}

	report := eng.Apply(ctx, sched, m.Snapshot)
	renderReport(out, report)

	if err := record(ctx, p, backend, report); err != nil {
		logging.Warn("failed to record run", "run", report.RunID, "error", err)
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	if !report.Succeeded() {
		return &RunFailedError{Summary: report.Summary}
	}
	return nil
}

// confirm asks for approval on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "\nDo you want to perform these actions? (y/n): ")
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// record persists the report to state and history and publishes failures.
// Every sink is attempted; their errors are joined.
func record(ctx context.Context, p *project, backend state.Backend, report *ir.RunReport) error {
	host := p.hostName()
	var errs []error

	s, err := backend.Read(ctx)
	if err == nil {
		s.Host = host
		s.LastRun = report
		err = backend.Write(ctx, s)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("write state: %w", err))
	}

	store, err := openHistory(p.dir)
	if err != nil {
		errs = append(errs, fmt.Errorf("open history: %w", err))
	} else if store != nil {
		if err := store.Record(ctx, host, report); err != nil {
			errs = append(errs, fmt.Errorf("record history: %w", err))
		}
		store.Close()
	}

	notifier, err := notify.New(ctx, p.cfg.Notify)
	if err != nil {
		errs = append(errs, fmt.Errorf("notify: %w", err))
	} else if err := notifier.RunFinished(ctx, host, report); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

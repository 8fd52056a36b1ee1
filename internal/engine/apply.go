package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/picklr-io/sysconverge/internal/logging"
)

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Kind     ir.Kind
	Stage    ir.Stage
	Status   string // "started", or a terminal ir.Status
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set. With Parallelism > 1
// it may be called from several goroutines at once.
type ApplyCallback func(event ApplyEvent)

// run carries the mutable bookkeeping of one Apply or Plan call.
type run struct {
	adapter  ir.Adapter
	dag      *DAG
	mu       sync.Mutex
	results  map[string]*ir.ResourceResult
	contribs []ir.Contribution
	aliases  map[string]*AliasResult
}

func newRun(adapter ir.Adapter, dag *DAG) *run {
	return &run{
		adapter: adapter,
		dag:     dag,
		results: make(map[string]*ir.ResourceResult),
		aliases: make(map[string]*AliasResult),
	}
}

func (r *run) snapshot() []ir.Contribution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.Contribution(nil), r.contribs...)
}

func (r *run) storeAliases(id string, result *AliasResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[id] = result
}

func (r *run) aliasResult(id string) *AliasResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aliases[id]
}

// desiredState resolves the state of derived resources from the result of
// the aggregation they follow.
func (r *run) desiredState(res *ir.Resource) (ir.DesiredState, error) {
	if res.StateFrom == "" {
		return res.State, nil
	}
	result := r.aliasResult(res.StateFrom)
	if result == nil {
		return "", fmt.Errorf("%s: state depends on %s, which produced no result", res.ID, res.StateFrom)
	}
	if result.Notify {
		return ir.Present, nil
	}
	return ir.Absent, nil
}

// blocker returns the first dependency that failed or was blocked.
func (r *run) blocker(res *ir.Resource) *ir.ResourceResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range r.dag.Dependencies(res.ID) {
		if dr := r.results[dep]; dr != nil && (dr.Status == ir.StatusFailed || dr.Status == ir.StatusBlocked) {
			return dr
		}
	}
	return nil
}

// depsTerminalLocked reports whether every dependency of res has finished.
// The caller holds r.mu.
func (r *run) depsTerminalLocked(res *ir.Resource) bool {
	for _, dep := range r.dag.Dependencies(res.ID) {
		if dr := r.results[dep]; dr == nil || !dr.Status.Terminal() {
			return false
		}
	}
	return true
}

// Apply converges the scheduled resources stage by stage. Each stage is fully
// terminal before the next begins. snapshot is called once, after the main
// stage, to obtain the contributions the aggregation resources merge.
func (e *Engine) Apply(ctx context.Context, sched *StageGraph, snapshot func() []ir.Contribution) *ir.RunReport {
	report := &ir.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	r := newRun(e.adapter, sched.Graph())
	for _, res := range sched.Ordered() {
		result := &ir.ResourceResult{
			ID:     res.ID,
			Kind:   res.Kind,
			Stage:  res.Stage,
			State:  res.State,
			Status: ir.StatusPending,
		}
		r.results[res.ID] = result
		report.Results = append(report.Results, result)
	}

	logging.Info("apply started", "run", report.RunID, "resources", len(report.Results), "parallelism", e.parallelism())

	for _, stage := range Stages {
		if stage == ir.StageLast && snapshot != nil {
			contribs := snapshot()
			r.mu.Lock()
			r.contribs = contribs
			r.mu.Unlock()
		}

		resources := sched.Stage(stage)
		logging.Debug("stage started", "stage", stage, "resources", len(resources))

		if e.parallelism() > 1 && len(resources) > 1 {
			e.applyParallel(ctx, r, resources)
		} else {
			for _, res := range resources {
				e.execute(ctx, r, res)
			}
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.Tally()

	logging.Info("apply finished", "run", report.RunID,
		"applied", report.Summary.Applied, "skipped", report.Summary.Skipped,
		"failed", report.Summary.Failed, "blocked", report.Summary.Blocked)

	return report
}

// applyParallel runs independent resources of one stage concurrently. A
// resource starts only once all of its dependencies are terminal; the call
// returns when every resource of the stage is terminal.
func (e *Engine) applyParallel(ctx context.Context, r *run, resources []*ir.Resource) {
	cond := sync.NewCond(&r.mu)
	sem := make(chan struct{}, e.parallelism())

	var wg sync.WaitGroup
	for _, res := range resources {
		wg.Add(1)
		go func(res *ir.Resource) {
			defer wg.Done()

			r.mu.Lock()
			for !r.depsTerminalLocked(res) {
				cond.Wait()
			}
			r.mu.Unlock()

			sem <- struct{}{}
			e.execute(ctx, r, res)
			<-sem

			cond.Broadcast()
		}(res)
	}
	wg.Wait()
}

// execute drives a single resource from pending to a terminal status.
func (e *Engine) execute(ctx context.Context, r *run, res *ir.Resource) {
	if dep := r.blocker(res); dep != nil {
		reason := append([]string{fmt.Sprintf("dependency %s %s", dep.ID, dep.Status)}, dep.Reason...)
		e.finish(r, res, res.State, ir.StatusBlocked, reason, 0, nil)
		return
	}

	start := time.Now()
	e.emit(ApplyEvent{Address: res.ID, Kind: res.Kind, Stage: res.Stage, Status: "started"})

	want, status, err := e.converge(ctx, r, res)
	var reason []string
	if err != nil {
		reason = []string{err.Error()}
	}
	e.finish(r, res, want, status, reason, time.Since(start), err)
}

func (e *Engine) converge(ctx context.Context, r *run, res *ir.Resource) (ir.DesiredState, ir.Status, error) {
	if err := ctx.Err(); err != nil {
		return res.State, ir.StatusFailed, fmt.Errorf("apply cancelled: %w", err)
	}

	h, ok := handlers[res.Kind]
	if !ok {
		return res.State, ir.StatusFailed, fmt.Errorf("no handler for kind %s", res.Kind)
	}

	want, err := r.desiredState(res)
	if err != nil {
		return res.State, ir.StatusFailed, err
	}

	ctx, cancel := WithTimeout(ctx, e.Timeout)
	defer cancel()

	converged, err := h.inspect(ctx, r, res, want)
	if err != nil {
		return want, ir.StatusFailed, fmt.Errorf("inspect %s: %w", res.ID, err)
	}
	if converged {
		return want, ir.StatusSkipped, nil
	}

	logging.Debug("converging resource", "resource", res.ID, "kind", res.Kind, "state", want)
	if err := h.converge(ctx, r, res, want); err != nil {
		return want, ir.StatusFailed, fmt.Errorf("converge %s: %w", res.ID, err)
	}
	return want, ir.StatusApplied, nil
}

func (e *Engine) finish(r *run, res *ir.Resource, want ir.DesiredState, status ir.Status, reason []string, d time.Duration, err error) {
	r.mu.Lock()
	result := r.results[res.ID]
	result.State = want
	result.Status = status
	result.Reason = reason
	result.Duration = d
	r.mu.Unlock()

	switch status {
	case ir.StatusFailed:
		logging.Warn("resource failed", "resource", res.ID, "kind", res.Kind, "error", err)
	case ir.StatusBlocked:
		logging.Warn("resource blocked", "resource", res.ID, "reason", reason[0])
	default:
		logging.Debug("resource finished", "resource", res.ID, "status", status, "duration", d)
	}

	e.emit(ApplyEvent{
		Address:  res.ID,
		Kind:     res.Kind,
		Stage:    res.Stage,
		Status:   string(status),
		Duration: d,
		Error:    err,
	})
}

func (e *Engine) emit(event ApplyEvent) {
	if e.Callback != nil {
		e.Callback(event)
	}
}

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/picklr-io/sysconverge/internal/logging"
)

// Engine converges a model against a host through an adapter.
type Engine struct {
	adapter     ir.Adapter
	Parallelism int           // resources converged at once within a stage; <= 1 runs sequentially
	Timeout     time.Duration // per-resource timeout, DefaultTimeout when zero
	Callback    ApplyCallback
}

func NewEngine(adapter ir.Adapter) *Engine {
	return &Engine{
		adapter: adapter,
	}
}

func (e *Engine) parallelism() int {
	if e.Parallelism < 1 {
		return 1
	}
	return e.Parallelism
}

// Prepare builds and schedules the graph of m. Every error it returns is
// raised before any host mutation.
func Prepare(m *Model) (*StageGraph, error) {
	resources := m.Resources()
	logging.Debug("building dependency graph", "resources", len(resources))

	dag, err := BuildDAG(resources)
	if err != nil {
		return nil, err
	}
	return Schedule(dag), nil
}

// Run validates m, then applies it. A non-nil error means nothing was
// mutated; per-resource failures are reported in the RunReport instead.
func (e *Engine) Run(ctx context.Context, m *Model) (*ir.RunReport, error) {
	sched, err := Prepare(m)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	return e.Apply(ctx, sched, m.Snapshot), nil
}

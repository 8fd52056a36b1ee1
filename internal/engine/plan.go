package engine

import (
	"context"
	"fmt"

	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/picklr-io/sysconverge/internal/logging"
)

// Plan inspects every resource in schedule order without mutating the host.
// Aggregation resources see the contributions registered so far; the model
// is not sealed.
func (e *Engine) Plan(ctx context.Context, m *Model) (*ir.Plan, error) {
	sched, err := Prepare(m)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{},
		Aliases: make(map[string]*ir.AliasDiff),
		Summary: &ir.PlanSummary{},
	}

	r := newRun(e.adapter, sched.Graph())
	r.contribs = m.Contributions()

	for _, res := range sched.Ordered() {
		change := e.planResource(ctx, r, res)
		plan.Changes = append(plan.Changes, change)

		switch {
		case change.Error != "":
			plan.Summary.Errors++
		case change.Action == ir.ActionCreate:
			plan.Summary.Create++
		case change.Action == ir.ActionRemove:
			plan.Summary.Remove++
		default:
			plan.Summary.NoOp++
		}

		if result := r.aliasResult(res.ID); result != nil {
			for _, name := range result.Changed {
				plan.Aliases[name] = &ir.AliasDiff{
					Before: result.Before[name],
					After:  result.Next[name],
				}
			}
		}
	}

	logging.Debug("plan computed",
		"create", plan.Summary.Create, "remove", plan.Summary.Remove,
		"noop", plan.Summary.NoOp, "errors", plan.Summary.Errors)

	return plan, nil
}

func (e *Engine) planResource(ctx context.Context, r *run, res *ir.Resource) *ir.ResourceChange {
	change := &ir.ResourceChange{
		ID:     res.ID,
		Kind:   res.Kind,
		Stage:  res.Stage,
		State:  res.State,
		Action: ir.ActionNoop,
	}

	h, ok := handlers[res.Kind]
	if !ok {
		change.Error = fmt.Sprintf("no handler for kind %s", res.Kind)
		return change
	}

	want, err := r.desiredState(res)
	if err != nil {
		change.Error = err.Error()
		return change
	}
	change.State = want

	ctx, cancel := WithTimeout(ctx, e.Timeout)
	defer cancel()

	converged, err := h.inspect(ctx, r, res, want)
	if err != nil {
		change.Error = err.Error()
		return change
	}
	if converged {
		return change
	}

	if want == ir.Absent && res.Kind != ir.KindMailAlias {
		change.Action = ir.ActionRemove
	} else {
		change.Action = ir.ActionCreate
	}
	return change
}

package ir

import "time"

// Status is the terminal outcome of one resource in a run.
type Status string

const (
	StatusPending Status = "pending"
	StatusSkipped Status = "skipped"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// RunReport enumerates the terminal status of every resource in a run.
type RunReport struct {
	RunID      string            `yaml:"runId" json:"runId"`
	StartedAt  time.Time         `yaml:"startedAt" json:"startedAt"`
	FinishedAt time.Time         `yaml:"finishedAt" json:"finishedAt"`
	Results    []*ResourceResult `yaml:"results" json:"results"`
	Summary    RunSummary        `yaml:"summary" json:"summary"`
}

// ResourceResult records what happened to a single resource.
type ResourceResult struct {
	ID       string        `yaml:"id" json:"id"`
	Kind     Kind          `yaml:"kind" json:"kind"`
	Stage    Stage         `yaml:"stage" json:"stage"`
	State    DesiredState  `yaml:"state" json:"state"`
	Status   Status        `yaml:"status" json:"status"`
	Reason   []string      `yaml:"reason,omitempty" json:"reason,omitempty"` // outermost cause first
	Duration time.Duration `yaml:"duration" json:"duration"`
}

// RunSummary counts results by status.
type RunSummary struct {
	Skipped int `yaml:"skipped" json:"skipped"`
	Applied int `yaml:"applied" json:"applied"`
	Failed  int `yaml:"failed" json:"failed"`
	Blocked int `yaml:"blocked" json:"blocked"`
}

// Result returns the result for id, or nil.
func (r *RunReport) Result(id string) *ResourceResult {
	for _, res := range r.Results {
		if res.ID == id {
			return res
		}
	}
	return nil
}

// Succeeded reports whether no resource failed or was blocked.
func (r *RunReport) Succeeded() bool {
	return r.Summary.Failed == 0 && r.Summary.Blocked == 0
}

// Tally recomputes Summary from Results.
func (r *RunReport) Tally() {
	r.Summary = RunSummary{}
	for _, res := range r.Results {
		switch res.Status {
		case StatusSkipped:
			r.Summary.Skipped++
		case StatusApplied:
			r.Summary.Applied++
		case StatusFailed:
			r.Summary.Failed++
		case StatusBlocked:
			r.Summary.Blocked++
		}
	}
}

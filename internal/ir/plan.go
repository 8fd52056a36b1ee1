package ir

// Action is what a plan expects to do to a resource.
type Action string

const (
	ActionNoop   Action = "noop"
	ActionCreate Action = "create" // create or update towards present
	ActionRemove Action = "remove"
)

// Plan represents a calculated, side-effect free view of the next run.
type Plan struct {
	Changes []*ResourceChange     `yaml:"changes" json:"changes"`
	Aliases map[string]*AliasDiff `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Summary *PlanSummary          `yaml:"summary" json:"summary"`
}

type ResourceChange struct {
	ID     string       `yaml:"id" json:"id"`
	Kind   Kind         `yaml:"kind" json:"kind"`
	Stage  Stage        `yaml:"stage" json:"stage"`
	State  DesiredState `yaml:"state" json:"state"`
	Action Action       `yaml:"action" json:"action"`
	Error  string       `yaml:"error,omitempty" json:"error,omitempty"`
}

// AliasDiff shows the recipients of an alias before and after aggregation.
type AliasDiff struct {
	Before []string `yaml:"before" json:"before"`
	After  []string `yaml:"after" json:"after"`
}

type PlanSummary struct {
	Create int `yaml:"create" json:"create"`
	Remove int `yaml:"remove" json:"remove"`
	NoOp   int `yaml:"noop" json:"noop"`
	Errors int `yaml:"errors" json:"errors"`
}

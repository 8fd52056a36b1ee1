package ir

// State represents the persistent record of previous runs. Convergence never
// reads it; it exists for operators and the show command.
type State struct {
	Version int        `yaml:"version" json:"version"`
	Serial  int        `yaml:"serial" json:"serial"`
	Lineage string     `yaml:"lineage" json:"lineage"`
	Host    string     `yaml:"host,omitempty" json:"host,omitempty"`
	LastRun *RunReport `yaml:"lastRun,omitempty" json:"lastRun,omitempty"`
}

package ir

// DesiredState is the state a resource is converged towards.
type DesiredState string

const (
	Present DesiredState = "present"
	Absent  DesiredState = "absent"
)

// Valid reports whether s is one of the two recognized states.
func (s DesiredState) Valid() bool {
	return s == Present || s == Absent
}

// Kind identifies which handler converges a resource.
type Kind string

const (
	KindAccount      Kind = "account"
	KindFile         Kind = "file"
	KindDirectory    Kind = "directory"
	KindPackageSet   Kind = "package_set"
	KindPasswordLock Kind = "password_lock"
	KindSudoEntry    Kind = "sudo_entry"
	KindMailAlias    Kind = "mail_alias"
)

// Valid reports whether k is a known resource kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAccount, KindFile, KindDirectory, KindPackageSet,
		KindPasswordLock, KindSudoEntry, KindMailAlias:
		return true
	}
	return false
}

// Stage is an execution phase. Every resource of an earlier stage reaches a
// terminal status before any resource of a later stage starts.
type Stage string

const (
	StageMain Stage = "main"
	StageLast Stage = "last"
)

// Rank orders stages; lower ranks run first.
func (s Stage) Rank() int {
	switch s {
	case StageMain:
		return 0
	case StageLast:
		return 1
	}
	return -1
}

// Resource represents a single managed unit of desired system state.
type Resource struct {
	ID         string       `pkl:"id" yaml:"id" json:"id"` // e.g. "account:alice"
	Kind       Kind         `pkl:"kind" yaml:"kind" json:"kind"`
	State      DesiredState `pkl:"state" yaml:"state" json:"state"`
	Stage      Stage        `pkl:"stage" yaml:"stage,omitempty" json:"stage,omitempty"`
	DependsOn  []string     `pkl:"dependsOn" yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	Attributes Attributes   `pkl:"attributes" yaml:"attributes,omitempty" json:"attributes,omitempty"`

	// StateFrom names an aggregation resource whose result decides State at
	// apply time. Only set on derived resources.
	StateFrom string `pkl:"-" yaml:"-" json:"-"`
}

// Attributes holds the kind-specific settings of a resource. Fields that do
// not apply to a kind are ignored by its handler.
type Attributes struct {
	// account
	Name    string   `pkl:"name" yaml:"name,omitempty" json:"name,omitempty"`
	UID     *int     `pkl:"uid" yaml:"uid,omitempty" json:"uid,omitempty"`
	Comment string   `pkl:"comment" yaml:"comment,omitempty" json:"comment,omitempty"`
	Home    string   `pkl:"home" yaml:"home,omitempty" json:"home,omitempty"`
	Shell   string   `pkl:"shell" yaml:"shell,omitempty" json:"shell,omitempty"`
	Groups  []string `pkl:"groups" yaml:"groups,omitempty" json:"groups,omitempty"`

	// file, directory, sudo_entry
	Path    string `pkl:"path" yaml:"path,omitempty" json:"path,omitempty"`
	Owner   string `pkl:"owner" yaml:"owner,omitempty" json:"owner,omitempty"`
	Group   string `pkl:"group" yaml:"group,omitempty" json:"group,omitempty"`
	Mode    uint32 `pkl:"mode" yaml:"mode,omitempty" json:"mode,omitempty"`
	Content string `pkl:"content" yaml:"content,omitempty" json:"content,omitempty"`

	// Render produces file content when set; it takes precedence over Content.
	Render ContentFunc `pkl:"-" yaml:"-" json:"-"`

	// package_set
	Packages []string `pkl:"packages" yaml:"packages,omitempty" json:"packages,omitempty"`

	// mail_alias
	AliasFile string `pkl:"aliasFile" yaml:"aliasFile,omitempty" json:"aliasFile,omitempty"`
}

// ContentFunc renders the bytes of a file resource.
type ContentFunc func() ([]byte, error)

// Body returns the desired content of a file resource.
func (a Attributes) Body() ([]byte, error) {
	if a.Render != nil {
		return a.Render()
	}
	return []byte(a.Content), nil
}

// Contribution is one account's email fact fed into the mail alias merge.
type Contribution struct {
	AccountID string       `yaml:"accountId" json:"accountId"`
	Email     string       `yaml:"email" json:"email"`
	State     DesiredState `yaml:"state" json:"state"`
}

// AliasState maps an alias name to its ordered, de-duplicated recipients.
type AliasState map[string][]string

// Clone returns a deep copy of the alias state.
func (s AliasState) Clone() AliasState {
	out := make(AliasState, len(s))
	for name, recipients := range s {
		out[name] = append([]string(nil), recipients...)
	}
	return out
}

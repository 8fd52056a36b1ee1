package ir

// Config represents the top-level host declaration.
type Config struct {
	Accounts       []*Account     `pkl:"accounts" yaml:"accounts" json:"accounts"`
	Packages       []string       `pkl:"packages" yaml:"packages,omitempty" json:"packages,omitempty"`
	NotifyPackages []string       `pkl:"notifyPackages" yaml:"notifyPackages,omitempty" json:"notifyPackages,omitempty"`
	AliasFile      string         `pkl:"aliasFile" yaml:"aliasFile,omitempty" json:"aliasFile,omitempty"`
	Resources      []*Resource    `pkl:"resources" yaml:"resources,omitempty" json:"resources,omitempty"`
	Backend        *BackendConfig `pkl:"backend" yaml:"backend,omitempty" json:"backend,omitempty"`
	Notify         *NotifyConfig  `pkl:"notify" yaml:"notify,omitempty" json:"notify,omitempty"`
}

// Account declares one sysadmin account. A nil Locked leaves the password
// lock unmanaged.
type Account struct {
	Name    string             `pkl:"name" yaml:"name" json:"name"`
	State   DesiredState       `pkl:"state" yaml:"state" json:"state"`
	Email   string             `pkl:"email" yaml:"email,omitempty" json:"email,omitempty"`
	Comment string             `pkl:"comment" yaml:"comment,omitempty" json:"comment,omitempty"`
	UID     *int               `pkl:"uid" yaml:"uid,omitempty" json:"uid,omitempty"`
	Shell   string             `pkl:"shell" yaml:"shell,omitempty" json:"shell,omitempty"`
	Home    string             `pkl:"home" yaml:"home,omitempty" json:"home,omitempty"`
	Groups  []string           `pkl:"groups" yaml:"groups,omitempty" json:"groups,omitempty"`
	Sudo    bool               `pkl:"sudo" yaml:"sudo,omitempty" json:"sudo,omitempty"`
	Locked  *bool              `pkl:"locked" yaml:"locked,omitempty" json:"locked,omitempty"`
	SSHKeys []string           `pkl:"sshKeys" yaml:"sshKeys,omitempty" json:"sshKeys,omitempty"`
	Profile []*ProfileFragment `pkl:"profile" yaml:"profile,omitempty" json:"profile,omitempty"`
}

// ProfileFragment is a piece of an account's shell profile. Fragments are
// placed between the header and footer by ascending Order.
type ProfileFragment struct {
	Order   int    `pkl:"order" yaml:"order" json:"order"`
	Content string `pkl:"content" yaml:"content" json:"content"`
}

// BackendConfig selects where run state is stored.
type BackendConfig struct {
	Type   string            `pkl:"type" yaml:"type" json:"type"` // "local", "s3"
	Config map[string]string `pkl:"config" yaml:"config,omitempty" json:"config,omitempty"`
}

// NotifyConfig configures run-failure notifications.
type NotifyConfig struct {
	TopicARN string `pkl:"topicArn" yaml:"topicArn" json:"topicArn"`
	Region   string `pkl:"region" yaml:"region,omitempty" json:"region,omitempty"`
}

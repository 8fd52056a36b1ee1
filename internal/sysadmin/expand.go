// Package sysadmin turns a host declaration into engine resources and alias
// contributions.
package sysadmin

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/picklr-io/sysconverge/internal/engine"
	"github.com/picklr-io/sysconverge/internal/ir"
)

const DefaultAliasFile = "/etc/aliases"

var (
	DefaultPackages       = []string{"sudo"}
	DefaultNotifyPackages = []string{"logwatch"}
)

// Resource ids of the host-wide resources.
const (
	BasePackagesID   = "packages:base"
	NotifyPackagesID = "packages:notify"
)

var validName = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// AliasID returns the id of the aggregation resource for an alias file.
func AliasID(aliasFile string) string {
	return "mailalias:" + aliasFile
}

// Build creates a model holding everything cfg declares.
func Build(cfg *ir.Config) (*engine.Model, error) {
	m := engine.NewModel()
	if err := Expand(cfg, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Expand registers the resources and contributions cfg implies into m:
// per-account resources, the base packages, the alias aggregation with its
// derived notification packages, and any extra resources verbatim.
func Expand(cfg *ir.Config, m *engine.Model) error {
	packages := cfg.Packages
	if packages == nil {
		packages = DefaultPackages
	}
	if len(packages) > 0 {
		if err := m.Register(&ir.Resource{
			ID:         BasePackagesID,
			Kind:       ir.KindPackageSet,
			State:      ir.Present,
			Attributes: ir.Attributes{Packages: packages},
		}); err != nil {
			return err
		}
	}

	for _, acct := range cfg.Accounts {
		if acct == nil {
			continue
		}
		resources, err := accountResources(acct, len(packages) > 0)
		if err != nil {
			return err
		}
		for _, res := range resources {
			if err := m.Register(res); err != nil {
				return err
			}
		}
		if err := m.RegisterContribution(acct.Name, acct.Email, accountState(acct)); err != nil {
			return err
		}
	}

	if len(cfg.Accounts) > 0 {
		aliasFile := cfg.AliasFile
		if aliasFile == "" {
			aliasFile = DefaultAliasFile
		}
		notify := cfg.NotifyPackages
		if notify == nil {
			notify = DefaultNotifyPackages
		}

		if err := m.Register(&ir.Resource{
			ID:         AliasID(aliasFile),
			Kind:       ir.KindMailAlias,
			State:      ir.Present,
			Stage:      ir.StageLast,
			Attributes: ir.Attributes{AliasFile: aliasFile},
		}); err != nil {
			return err
		}
		if len(notify) > 0 {
			if err := m.Register(&ir.Resource{
				ID:         NotifyPackagesID,
				Kind:       ir.KindPackageSet,
				State:      ir.Present,
				Stage:      ir.StageLast,
				DependsOn:  []string{AliasID(aliasFile)},
				StateFrom:  AliasID(aliasFile),
				Attributes: ir.Attributes{Packages: notify},
			}); err != nil {
				return err
			}
		}
	}

	for _, res := range cfg.Resources {
		if err := m.Register(res); err != nil {
			return err
		}
	}
	return nil
}

func accountState(acct *ir.Account) ir.DesiredState {
	if acct.State == "" {
		return ir.Present
	}
	return acct.State
}

// HomeDir returns the declared home of acct, or /home/<name>.
func HomeDir(acct *ir.Account) string {
	if acct.Home != "" {
		return acct.Home
	}
	return "/home/" + acct.Name
}

func accountResources(acct *ir.Account, basePackages bool) ([]*ir.Resource, error) {
	name := acct.Name
	if !validName.MatchString(name) {
		return nil, &engine.ValidationError{ID: "account:" + name, Msg: fmt.Sprintf("invalid account name %q", name)}
	}
	if acct.Home != "" && !path.IsAbs(acct.Home) {
		return nil, &engine.ValidationError{ID: "account:" + name, Msg: fmt.Sprintf("home %q is not absolute", acct.Home)}
	}
	if name == engine.RootAlias {
		return nil, &engine.ValidationError{ID: "account:" + name, Msg: "account name collides with the root alias"}
	}
	if strings.ContainsAny(acct.Email, ", \t\r\n") {
		return nil, &engine.ValidationError{ID: "account:" + name, Msg: fmt.Sprintf("email %q must be a single address", acct.Email)}
	}
	for _, key := range acct.SSHKeys {
		if strings.ContainsAny(key, "\r\n") {
			return nil, &engine.ValidationError{ID: "account:" + name, Msg: "ssh key spans several lines"}
		}
	}

	accountID := "account:" + name
	sudoID := "sudo:" + name
	state := accountState(acct)

	sudoState := ir.Absent
	if state == ir.Present && acct.Sudo {
		sudoState = ir.Present
	}
	sudo := &ir.Resource{
		ID:         sudoID,
		Kind:       ir.KindSudoEntry,
		State:      sudoState,
		Attributes: ir.Attributes{Name: name},
	}

	if state == ir.Absent {
		// the sudoers entry goes before the account it names
		return []*ir.Resource{
			sudo,
			{
				ID:         accountID,
				Kind:       ir.KindAccount,
				State:      ir.Absent,
				DependsOn:  []string{sudoID},
				Attributes: ir.Attributes{Name: name},
			},
		}, nil
	}

	home := HomeDir(acct)
	homeID := "dir:" + home
	sshDir := path.Join(home, ".ssh")
	sshID := "dir:" + sshDir

	resources := []*ir.Resource{
		{
			ID:    accountID,
			Kind:  ir.KindAccount,
			State: state,
			Attributes: ir.Attributes{
				Name:    name,
				UID:     acct.UID,
				Comment: acct.Comment,
				Home:    acct.Home,
				Shell:   acct.Shell,
				Groups:  acct.Groups,
			},
		},
		{
			ID:         homeID,
			Kind:       ir.KindDirectory,
			State:      ir.Present,
			DependsOn:  []string{accountID},
			Attributes: ir.Attributes{Path: home, Owner: name, Group: name, Mode: 0o750},
		},
		{
			ID:        "file:" + path.Join(home, ".profile"),
			Kind:      ir.KindFile,
			State:     ir.Present,
			DependsOn: []string{homeID},
			Attributes: ir.Attributes{
				Path:  path.Join(home, ".profile"),
				Owner: name,
				Group: name,
				Mode:  0o644,
				Render: func() ([]byte, error) {
					return RenderProfile(acct, home)
				},
			},
		},
		{
			ID:         sshID,
			Kind:       ir.KindDirectory,
			State:      ir.Present,
			DependsOn:  []string{homeID},
			Attributes: ir.Attributes{Path: sshDir, Owner: name, Group: name, Mode: 0o700},
		},
	}

	if len(acct.SSHKeys) > 0 {
		keysPath := path.Join(sshDir, "authorized_keys")
		resources = append(resources, &ir.Resource{
			ID:        "file:" + keysPath,
			Kind:      ir.KindFile,
			State:     ir.Present,
			DependsOn: []string{sshID},
			Attributes: ir.Attributes{
				Path:    keysPath,
				Owner:   name,
				Group:   name,
				Mode:    0o600,
				Content: strings.Join(acct.SSHKeys, "\n") + "\n",
			},
		})
	}

	sudo.DependsOn = []string{accountID}
	if basePackages {
		sudo.DependsOn = append(sudo.DependsOn, BasePackagesID)
	}
	resources = append(resources, sudo)

	if acct.Locked != nil {
		lockState := ir.Absent
		if *acct.Locked {
			lockState = ir.Present
		}
		resources = append(resources, &ir.Resource{
			ID:         "passwd:" + name,
			Kind:       ir.KindPasswordLock,
			State:      lockState,
			DependsOn:  []string{accountID},
			Attributes: ir.Attributes{Name: name},
		})
	}

	return resources, nil
}

package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/picklr-io/sysconverge/internal/ir"
)

// handler converges one kind of resource. inspect must not mutate anything.
type handler interface {
	inspect(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) (bool, error)
	converge(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) error
}

var handlers = map[ir.Kind]handler{
	ir.KindAccount:      accountHandler{},
	ir.KindFile:         fileHandler{},
	ir.KindSudoEntry:    fileHandler{sudo: true},
	ir.KindDirectory:    directoryHandler{},
	ir.KindPackageSet:   packageHandler{},
	ir.KindPasswordLock: passwordLockHandler{},
	ir.KindMailAlias:    mailAliasHandler{},
}

// accountName returns the login a resource manages: Attributes.Name, or the
// part of the id after the first colon.
func accountName(res *ir.Resource) string {
	if res.Attributes.Name != "" {
		return res.Attributes.Name
	}
	if _, name, ok := strings.Cut(res.ID, ":"); ok {
		return name
	}
	return res.ID
}

type accountHandler struct{}

func (accountHandler) inspect(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) (bool, error) {
	info, err := r.adapter.InspectAccount(ctx, accountName(res))
	if err != nil {
		return false, err
	}
	if want == ir.Absent {
		return !info.Exists, nil
	}

	attrs := res.Attributes
	switch {
	case !info.Exists:
		return false, nil
	case attrs.Home != "" && info.Home != attrs.Home:
		return false, nil
	case attrs.Shell != "" && info.Shell != attrs.Shell:
		return false, nil
	case attrs.Groups != nil && !sameSet(withoutGroup(info.Groups, info.PrimaryGroup), withoutGroup(attrs.Groups, info.PrimaryGroup)):
		return false, nil
	}
	return true, nil
}

func (accountHandler) converge(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) error {
	name := accountName(res)
	if want == ir.Absent {
		return r.adapter.RemoveAccount(ctx, name)
	}
	attrs := res.Attributes
	return r.adapter.CreateOrUpdateAccount(ctx, name, ir.AccountSpec{
		UID:     attrs.UID,
		Comment: attrs.Comment,
		Home:    attrs.Home,
		Shell:   attrs.Shell,
		Groups:  attrs.Groups,
	})
}

type fileHandler struct {
	sudo bool
}

// spec resolves the file to write, applying sudoers defaults for sudo entries.
func (h fileHandler) spec(res *ir.Resource) (ir.FileSpec, error) {
	attrs := res.Attributes
	spec := ir.FileSpec{
		Path:  attrs.Path,
		Owner: attrs.Owner,
		Group: attrs.Group,
		Mode:  attrs.Mode,
	}

	if h.sudo {
		name := accountName(res)
		if spec.Path == "" {
			spec.Path = "/etc/sudoers.d/" + name
		}
		if spec.Owner == "" {
			spec.Owner = "root"
		}
		if spec.Group == "" {
			spec.Group = "root"
		}
		if spec.Mode == 0 {
			spec.Mode = 0o440
		}
		if attrs.Content == "" && attrs.Render == nil {
			spec.Content = []byte(fmt.Sprintf("%s ALL=(ALL) NOPASSWD:ALL\n", name))
			return spec, nil
		}
	}

	if spec.Path == "" {
		return spec, fmt.Errorf("%s: path is required", res.ID)
	}

	body, err := attrs.Body()
	if err != nil {
		return spec, fmt.Errorf("render %s: %w", res.ID, err)
	}
	spec.Content = body
	return spec, nil
}

func (h fileHandler) inspect(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) (bool, error) {
	spec, err := h.spec(res)
	if err != nil {
		return false, err
	}
	info, err := r.adapter.InspectFile(ctx, spec.Path)
	if err != nil {
		return false, err
	}
	if want == ir.Absent {
		return !info.Exists, nil
	}
	if !info.Exists || info.IsDir || !ownership(info, spec) {
		return false, nil
	}
	return info.Digest == ir.ContentDigest(spec.Content), nil
}

func (h fileHandler) converge(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) error {
	spec, err := h.spec(res)
	if err != nil {
		return err
	}
	if want == ir.Absent {
		return r.adapter.RemoveFile(ctx, spec.Path)
	}
	return r.adapter.WriteFile(ctx, spec)
}

type directoryHandler struct{}

func directorySpec(res *ir.Resource) (ir.FileSpec, error) {
	attrs := res.Attributes
	if attrs.Path == "" {
		return ir.FileSpec{}, fmt.Errorf("%s: path is required", res.ID)
	}
	return ir.FileSpec{Path: attrs.Path, Owner: attrs.Owner, Group: attrs.Group, Mode: attrs.Mode}, nil
}

func (directoryHandler) inspect(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) (bool, error) {
	spec, err := directorySpec(res)
	if err != nil {
		return false, err
	}
	info, err := r.adapter.InspectFile(ctx, spec.Path)
	if err != nil {
		return false, err
	}
	if want == ir.Absent {
		return !info.Exists, nil
	}
	return info.Exists && info.IsDir && ownership(info, spec), nil
}

func (directoryHandler) converge(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) error {
	spec, err := directorySpec(res)
	if err != nil {
		return err
	}
	if want == ir.Absent {
		return r.adapter.RemoveFile(ctx, spec.Path)
	}
	return r.adapter.EnsureDirectory(ctx, spec)
}

// ownership compares the attributes a spec governs; unset fields are ignored.
func ownership(info *ir.FileInfo, spec ir.FileSpec) bool {
	if spec.Owner != "" && info.Owner != spec.Owner {
		return false
	}
	if spec.Group != "" && info.Group != spec.Group {
		return false
	}
	if spec.Mode != 0 && info.Mode != spec.Mode {
		return false
	}
	return true
}

type packageHandler struct{}

func (packageHandler) installed(ctx context.Context, r *run, res *ir.Resource) (have, missing []string, err error) {
	state, err := r.adapter.InspectPackages(ctx, res.Attributes.Packages)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range res.Attributes.Packages {
		if state[name] {
			have = append(have, name)
		} else {
			missing = append(missing, name)
		}
	}
	return have, missing, nil
}

func (h packageHandler) inspect(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) (bool, error) {
	have, missing, err := h.installed(ctx, r, res)
	if err != nil {
		return false, err
	}
	if want == ir.Absent {
		return len(have) == 0, nil
	}
	return len(missing) == 0, nil
}

func (h packageHandler) converge(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) error {
	have, missing, err := h.installed(ctx, r, res)
	if err != nil {
		return err
	}
	if want == ir.Absent {
		return r.adapter.RemovePackages(ctx, have)
	}
	return r.adapter.InstallPackages(ctx, missing)
}

// passwordLockHandler treats present as locked and absent as unlocked.
type passwordLockHandler struct{}

func (passwordLockHandler) inspect(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) (bool, error) {
	info, err := r.adapter.InspectAccount(ctx, accountName(res))
	if err != nil {
		return false, err
	}
	if !info.Exists {
		// a missing account has no password to unlock
		return want == ir.Absent, nil
	}
	return info.Locked == (want == ir.Present), nil
}

func (passwordLockHandler) converge(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) error {
	if want == ir.Present {
		return r.adapter.LockPassword(ctx, accountName(res))
	}
	return r.adapter.UnlockPassword(ctx, accountName(res))
}

// mailAliasHandler merges the run's account contributions into the alias
// file. An absent alias resource withdraws every contribution.
type mailAliasHandler struct{}

func (mailAliasHandler) inspect(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) (bool, error) {
	current, err := r.adapter.ReadAliasState(ctx)
	if err != nil {
		return false, err
	}

	contribs := r.snapshot()
	if want == ir.Absent {
		withdrawn := make([]ir.Contribution, len(contribs))
		for i, c := range contribs {
			withdrawn[i] = ir.Contribution{AccountID: c.AccountID, Email: c.Email, State: ir.Absent}
		}
		contribs = withdrawn
	}

	result, err := Aggregate(contribs, current)
	if err != nil {
		return false, err
	}
	r.storeAliases(res.ID, result)
	return len(result.Changed) == 0, nil
}

func (mailAliasHandler) converge(ctx context.Context, r *run, res *ir.Resource, want ir.DesiredState) error {
	result := r.aliasResult(res.ID)
	if result == nil {
		return fmt.Errorf("%s: no aggregation result", res.ID)
	}
	return r.adapter.WriteAliasState(ctx, result.Updates)
}

// withoutGroup drops the primary group, which adapters never list as a
// supplementary membership.
func withoutGroup(groups []string, primary string) []string {
	if primary == "" {
		return groups
	}
	return slices.DeleteFunc(slices.Clone(groups), func(g string) bool { return g == primary })
}

// sameSet compares two string lists ignoring order and repeats.
func sameSet(a, b []string) bool {
	x := slices.Compact(sorted(a))
	y := slices.Compact(sorted(b))
	return slices.Equal(x, y)
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

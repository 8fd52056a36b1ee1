// Package null is an in-memory host. It backs dry runs and tests: every
// primitive mutates maps instead of the operating system, and failures can be
// injected per operation and target.
package null

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/picklr-io/sysconverge/internal/ir"
)

// Operation names recorded in the call log and accepted by FailOn.
const (
	OpInspectAccount  = "inspect_account"
	OpCreateAccount   = "create_account"
	OpRemoveAccount   = "remove_account"
	OpLockPassword    = "lock_password"
	OpUnlockPassword  = "unlock_password"
	OpInspectFile     = "inspect_file"
	OpWriteFile       = "write_file"
	OpEnsureDirectory = "ensure_directory"
	OpRemoveFile      = "remove_file"
	OpInspectPackages = "inspect_packages"
	OpInstallPackages = "install_packages"
	OpRemovePackages  = "remove_packages"
	OpReadAliases     = "read_aliases"
	OpWriteAliases    = "write_aliases"
)

var readOnly = map[string]bool{
	OpInspectAccount:  true,
	OpInspectFile:     true,
	OpInspectPackages: true,
	OpReadAliases:     true,
}

// Call is one recorded adapter invocation.
type Call struct {
	Op     string
	Target string
}

func (c Call) String() string {
	return c.Op + " " + c.Target
}

type file struct {
	info    ir.FileInfo
	content []byte
}

type Provider struct {
	// Delay is slept before every mutation, outside the provider lock.
	Delay time.Duration

	mu       sync.Mutex
	accounts map[string]*ir.AccountInfo
	files    map[string]*file
	packages map[string]bool
	aliases  ir.AliasState
	failures map[Call]error
	calls    []Call
	inflight int
	peak     int
}

func New() *Provider {
	return &Provider{
		accounts: make(map[string]*ir.AccountInfo),
		files:    make(map[string]*file),
		packages: make(map[string]bool),
		aliases:  make(ir.AliasState),
		failures: make(map[Call]error),
	}
}

var _ ir.Adapter = (*Provider)(nil)

// FailOn makes op on target return err until cleared with a nil err. An
// empty target matches every target of op.
func (p *Provider) FailOn(op, target string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := Call{Op: op, Target: target}
	if err == nil {
		delete(p.failures, key)
		return
	}
	p.failures[key] = err
}

// Calls returns the call log.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Mutations returns the logged calls that change host state.
func (p *Provider) Mutations() []Call {
	var out []Call
	for _, c := range p.Calls() {
		if !readOnly[c.Op] {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
	p.peak = 0
}

// PeakConcurrency is the largest number of mutations seen in flight at once.
func (p *Provider) PeakConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// SetAliases replaces the alias file contents.
func (p *Provider) SetAliases(state ir.AliasState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aliases = state.Clone()
}

// Aliases returns a copy of the alias file contents.
func (p *Provider) Aliases() ir.AliasState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aliases.Clone()
}

// Account returns the stored account, if any.
func (p *Provider) Account(name string) (ir.AccountInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[name]
	if !ok {
		return ir.AccountInfo{}, false
	}
	return *a, true
}

// File returns the content and metadata stored at path, if any.
func (p *Provider) File(path string) ([]byte, ir.FileInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[path]
	if !ok {
		return nil, ir.FileInfo{}, false
	}
	return append([]byte(nil), f.content...), f.info, true
}

// Installed reports whether a package is installed.
func (p *Provider) Installed(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packages[name]
}

// SetInstalled marks packages as installed without logging a call.
func (p *Provider) SetInstalled(names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range names {
		p.packages[n] = true
	}
}

// do logs the call, applies injected failures, then runs fn under the lock.
func (p *Provider) do(ctx context.Context, op, target string, fn func() error) error {
	call := Call{Op: op, Target: target}
	mutating := !readOnly[op]

	p.mu.Lock()
	p.calls = append(p.calls, call)
	if mutating {
		p.inflight++
		if p.inflight > p.peak {
			p.peak = p.inflight
		}
	}
	p.mu.Unlock()

	defer func() {
		if mutating {
			p.mu.Lock()
			p.inflight--
			p.mu.Unlock()
		}
	}()

	if mutating && p.Delay > 0 {
		select {
		case <-ctx.Done():
			return &ir.OsError{Op: op, Target: target, Err: ctx.Err()}
		case <-time.After(p.Delay):
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.failures[call]; ok {
		return &ir.OsError{Op: op, Target: target, Err: err}
	}
	if err, ok := p.failures[Call{Op: op}]; ok {
		return &ir.OsError{Op: op, Target: target, Err: err}
	}
	return fn()
}

func (p *Provider) InspectAccount(ctx context.Context, name string) (*ir.AccountInfo, error) {
	info := &ir.AccountInfo{}
	err := p.do(ctx, OpInspectAccount, name, func() error {
		if a, ok := p.accounts[name]; ok {
			*info = *a
			info.Groups = append([]string(nil), a.Groups...)
		}
		return nil
	})
	return info, err
}

func (p *Provider) CreateOrUpdateAccount(ctx context.Context, name string, spec ir.AccountSpec) error {
	return p.do(ctx, OpCreateAccount, name, func() error {
		a, ok := p.accounts[name]
		if !ok {
			a = &ir.AccountInfo{Exists: true, Home: "/home/" + name, Shell: "/bin/sh", PrimaryGroup: name}
			p.accounts[name] = a
		}
		if spec.Home != "" {
			a.Home = spec.Home
		}
		if spec.Shell != "" {
			a.Shell = spec.Shell
		}
		if spec.Groups != nil {
			// like id -nG, the primary group is not listed as supplementary
			a.Groups = slices.DeleteFunc(slices.Clone(spec.Groups), func(g string) bool { return g == a.PrimaryGroup })
		}
		return nil
	})
}

func (p *Provider) RemoveAccount(ctx context.Context, name string) error {
	return p.do(ctx, OpRemoveAccount, name, func() error {
		delete(p.accounts, name)
		return nil
	})
}

func (p *Provider) LockPassword(ctx context.Context, name string) error {
	return p.setLocked(ctx, OpLockPassword, name, true)
}

func (p *Provider) UnlockPassword(ctx context.Context, name string) error {
	return p.setLocked(ctx, OpUnlockPassword, name, false)
}

func (p *Provider) setLocked(ctx context.Context, op, name string, locked bool) error {
	return p.do(ctx, op, name, func() error {
		a, ok := p.accounts[name]
		if !ok {
			return &ir.OsError{Op: op, Target: name, Err: fmt.Errorf("user %q does not exist", name)}
		}
		a.Locked = locked
		return nil
	})
}

func (p *Provider) InspectFile(ctx context.Context, path string) (*ir.FileInfo, error) {
	info := &ir.FileInfo{}
	err := p.do(ctx, OpInspectFile, path, func() error {
		if f, ok := p.files[path]; ok {
			*info = f.info
		}
		return nil
	})
	return info, err
}

func (p *Provider) WriteFile(ctx context.Context, spec ir.FileSpec) error {
	return p.do(ctx, OpWriteFile, spec.Path, func() error {
		if f, ok := p.files[spec.Path]; ok && f.info.IsDir {
			return &ir.OsError{Op: OpWriteFile, Target: spec.Path, Err: fmt.Errorf("is a directory")}
		}
		p.files[spec.Path] = &file{
			info: ir.FileInfo{
				Exists: true,
				Owner:  spec.Owner,
				Group:  spec.Group,
				Mode:   spec.Mode,
				Digest: ir.ContentDigest(spec.Content),
			},
			content: append([]byte(nil), spec.Content...),
		}
		return nil
	})
}

func (p *Provider) EnsureDirectory(ctx context.Context, spec ir.FileSpec) error {
	return p.do(ctx, OpEnsureDirectory, spec.Path, func() error {
		p.files[spec.Path] = &file{
			info: ir.FileInfo{
				Exists: true,
				IsDir:  true,
				Owner:  spec.Owner,
				Group:  spec.Group,
				Mode:   spec.Mode,
			},
		}
		return nil
	})
}

func (p *Provider) RemoveFile(ctx context.Context, path string) error {
	return p.do(ctx, OpRemoveFile, path, func() error {
		prefix := strings.TrimSuffix(path, "/") + "/"
		for name := range p.files {
			if name == path || strings.HasPrefix(name, prefix) {
				delete(p.files, name)
			}
		}
		return nil
	})
}

func (p *Provider) InspectPackages(ctx context.Context, names []string) (map[string]bool, error) {
	out := make(map[string]bool, len(names))
	err := p.do(ctx, OpInspectPackages, strings.Join(names, ","), func() error {
		for _, n := range names {
			out[n] = p.packages[n]
		}
		return nil
	})
	return out, err
}

func (p *Provider) InstallPackages(ctx context.Context, names []string) error {
	return p.do(ctx, OpInstallPackages, strings.Join(names, ","), func() error {
		for _, n := range names {
			p.packages[n] = true
		}
		return nil
	})
}

func (p *Provider) RemovePackages(ctx context.Context, names []string) error {
	return p.do(ctx, OpRemovePackages, strings.Join(names, ","), func() error {
		for _, n := range names {
			delete(p.packages, n)
		}
		return nil
	})
}

func (p *Provider) ReadAliasState(ctx context.Context) (ir.AliasState, error) {
	var out ir.AliasState
	err := p.do(ctx, OpReadAliases, "", func() error {
		out = p.aliases.Clone()
		return nil
	})
	return out, err
}

func (p *Provider) WriteAliasState(ctx context.Context, updates ir.AliasState) error {
	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	sort.Strings(names)

	return p.do(ctx, OpWriteAliases, strings.Join(names, ","), func() error {
		for name, recipients := range updates {
			if len(recipients) == 0 {
				delete(p.aliases, name)
				continue
			}
			p.aliases[name] = append([]string(nil), recipients...)
		}
		return nil
	})
}

// Package system converges a Linux host with its own tools: the shadow
// utilities for accounts, coreutils for files and the distribution's package
// manager. Commands go through a Runner, so the same adapter drives the local
// machine or a container.
package system

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/picklr-io/sysconverge/internal/logging"
)

// DefaultAliasFile is the sendmail-compatible alias database source.
const DefaultAliasFile = "/etc/aliases"

type Provider struct {
	runner     Runner
	aliasFile  string
	newaliases bool
	retry      *RetryPolicy

	detectOnce sync.Once
	family     Family
	pm         string
	detectErr  error

	aliasMu sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithAliasFile sets the alias file the provider reads and writes.
func WithAliasFile(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.aliasFile = path
		}
	}
}

// WithRetryPolicy sets the retry policy for package manager calls.
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(p *Provider) { p.retry = policy }
}

// WithoutNewaliases skips rebuilding the alias database after a write.
func WithoutNewaliases() Option {
	return func(p *Provider) { p.newaliases = false }
}

// WithPackageManager pins the package family and binary instead of probing
// the host.
func WithPackageManager(family Family, binary string) Option {
	return func(p *Provider) {
		p.detectOnce.Do(func() {
			p.family = family
			p.pm = binary
		})
	}
}

func New(runner Runner, opts ...Option) *Provider {
	if runner == nil {
		runner = ExecRunner{}
	}
	p := &Provider{
		runner:     runner,
		aliasFile:  DefaultAliasFile,
		newaliases: true,
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ ir.Adapter = (*Provider)(nil)

// run executes cmd and reports failures as *ir.OsError.
func (p *Provider) run(ctx context.Context, target string, cmd Command) ([]byte, error) {
	logging.Debug("running command", "cmd", cmd.String())
	out, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return out, &ir.OsError{Op: cmd.Name, Target: target, Err: err}
	}
	return out, nil
}

// exists runs test -e; exit status 1 means the path is missing.
func (p *Provider) exists(ctx context.Context, path string) (bool, error) {
	_, err := p.run(ctx, path, Command{Name: "test", Args: []string{"-e", path}})
	if err == nil {
		return true, nil
	}
	if ExitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

func (p *Provider) InspectAccount(ctx context.Context, name string) (*ir.AccountInfo, error) {
	out, err := p.run(ctx, name, Command{Name: "getent", Args: []string{"passwd", name}})
	if ExitCode(err) == 2 {
		return &ir.AccountInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	fields := strings.Split(strings.TrimSpace(string(out)), ":")
	if len(fields) < 7 {
		return nil, &ir.OsError{Op: "getent", Target: name, Err: fmt.Errorf("malformed passwd entry %q", out)}
	}
	info := &ir.AccountInfo{Exists: true, Home: fields[5], Shell: fields[6]}

	primary, err := p.run(ctx, name, Command{Name: "id", Args: []string{"-gn", name}})
	if err != nil {
		return nil, err
	}
	all, err := p.run(ctx, name, Command{Name: "id", Args: []string{"-nG", name}})
	if err != nil {
		return nil, err
	}
	info.PrimaryGroup = strings.TrimSpace(string(primary))
	for _, g := range strings.Fields(string(all)) {
		if g != info.PrimaryGroup {
			info.Groups = append(info.Groups, g)
		}
	}

	status, err := p.run(ctx, name, Command{Name: "passwd", Args: []string{"-S", name}})
	if err != nil {
		return nil, err
	}
	if f := strings.Fields(string(status)); len(f) > 1 {
		info.Locked = f[1] == "L" || f[1] == "LK"
	}
	return info, nil
}

func (p *Provider) CreateOrUpdateAccount(ctx context.Context, name string, spec ir.AccountSpec) error {
	_, err := p.run(ctx, name, Command{Name: "getent", Args: []string{"passwd", name}})
	switch {
	case ExitCode(err) == 2:
		return p.useradd(ctx, name, spec)
	case err != nil:
		return err
	}

	var args []string
	if spec.Comment != "" {
		args = append(args, "-c", spec.Comment)
	}
	if spec.Home != "" {
		args = append(args, "-d", spec.Home, "-m")
	}
	if spec.Shell != "" {
		args = append(args, "-s", spec.Shell)
	}
	if spec.Groups != nil {
		args = append(args, "-G", strings.Join(spec.Groups, ","))
	}
	if len(args) == 0 {
		return nil
	}
	_, err = p.run(ctx, name, Command{Name: "usermod", Args: append(args, name)})
	return err
}

func (p *Provider) useradd(ctx context.Context, name string, spec ir.AccountSpec) error {
	args := []string{"-m"}
	if spec.UID != nil {
		args = append(args, "-u", strconv.Itoa(*spec.UID))
	}
	if spec.Comment != "" {
		args = append(args, "-c", spec.Comment)
	}
	if spec.Home != "" {
		args = append(args, "-d", spec.Home)
	}
	if spec.Shell != "" {
		args = append(args, "-s", spec.Shell)
	}
	if len(spec.Groups) > 0 {
		args = append(args, "-G", strings.Join(spec.Groups, ","))
	}
	_, err := p.run(ctx, name, Command{Name: "useradd", Args: append(args, name)})
	return err
}

// RemoveAccount deletes the account but keeps its home directory.
func (p *Provider) RemoveAccount(ctx context.Context, name string) error {
	_, err := p.run(ctx, name, Command{Name: "userdel", Args: []string{name}})
	if ExitCode(err) == 6 {
		return nil
	}
	return err
}

func (p *Provider) LockPassword(ctx context.Context, name string) error {
	_, err := p.run(ctx, name, Command{Name: "passwd", Args: []string{"-l", name}})
	return err
}

func (p *Provider) UnlockPassword(ctx context.Context, name string) error {
	_, err := p.run(ctx, name, Command{Name: "passwd", Args: []string{"-u", name}})
	return err
}

func (p *Provider) InspectFile(ctx context.Context, path string) (*ir.FileInfo, error) {
	ok, err := p.exists(ctx, path)
	if err != nil || !ok {
		return &ir.FileInfo{}, err
	}

	out, err := p.run(ctx, path, Command{Name: "stat", Args: []string{"-c", "%F:%U:%G:%a", "--", path}})
	if err != nil {
		return nil, err
	}
	fields := strings.Split(strings.TrimSpace(string(out)), ":")
	if len(fields) != 4 {
		return nil, &ir.OsError{Op: "stat", Target: path, Err: fmt.Errorf("unexpected output %q", out)}
	}
	mode, err := strconv.ParseUint(fields[3], 8, 32)
	if err != nil {
		return nil, &ir.OsError{Op: "stat", Target: path, Err: err}
	}

	info := &ir.FileInfo{
		Exists: true,
		IsDir:  fields[0] == "directory",
		Owner:  fields[1],
		Group:  fields[2],
		Mode:   uint32(mode),
	}
	if info.IsDir {
		return info, nil
	}

	content, err := p.run(ctx, path, Command{Name: "cat", Args: []string{"--", path}})
	if err != nil {
		return nil, err
	}
	info.Digest = ir.ContentDigest(content)
	return info, nil
}

func (p *Provider) WriteFile(ctx context.Context, spec ir.FileSpec) error {
	_, err := p.run(ctx, spec.Path, Command{
		Name:  "install",
		Args:  append(installArgs(spec, 0o644), "/dev/stdin", spec.Path),
		Stdin: spec.Content,
	})
	return err
}

func (p *Provider) EnsureDirectory(ctx context.Context, spec ir.FileSpec) error {
	_, err := p.run(ctx, spec.Path, Command{
		Name: "install",
		Args: append(append([]string{"-d"}, installArgs(spec, 0o755)...), spec.Path),
	})
	return err
}

func installArgs(spec ir.FileSpec, defaultMode uint32) []string {
	mode := spec.Mode
	if mode == 0 {
		mode = defaultMode
	}
	args := []string{"-m", fmt.Sprintf("%04o", mode)}
	if spec.Owner != "" {
		args = append(args, "-o", spec.Owner)
	}
	if spec.Group != "" {
		args = append(args, "-g", spec.Group)
	}
	return args
}

func (p *Provider) RemoveFile(ctx context.Context, path string) error {
	_, err := p.run(ctx, path, Command{Name: "rm", Args: []string{"-rf", "--", path}})
	return err
}

func (p *Provider) ReadAliasState(ctx context.Context) (ir.AliasState, error) {
	data, err := p.readAliasFile(ctx)
	if err != nil {
		return nil, err
	}
	return ParseAliases(data), nil
}

func (p *Provider) readAliasFile(ctx context.Context) ([]byte, error) {
	ok, err := p.exists(ctx, p.aliasFile)
	if err != nil || !ok {
		return nil, err
	}
	return p.run(ctx, p.aliasFile, Command{Name: "cat", Args: []string{"--", p.aliasFile}})
}

// WriteAliasState rewrites the alias file once with every update applied,
// then rebuilds the alias database.
func (p *Provider) WriteAliasState(ctx context.Context, updates ir.AliasState) error {
	p.aliasMu.Lock()
	defer p.aliasMu.Unlock()

	current, err := p.readAliasFile(ctx)
	if err != nil {
		return err
	}
	if err := p.WriteFile(ctx, ir.FileSpec{
		Path:    p.aliasFile,
		Owner:   "root",
		Group:   "root",
		Mode:    0o644,
		Content: RenderAliases(current, updates),
	}); err != nil {
		return err
	}

	if !p.newaliases {
		return nil
	}
	_, err = p.run(ctx, p.aliasFile, Command{Name: "newaliases"})
	if code := ExitCode(err); code == 126 || code == 127 {
		logging.Warn("newaliases not available, alias database not rebuilt", "file", p.aliasFile)
		return nil
	}
	return err
}

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/picklr-io/sysconverge/internal/engine"
	"github.com/picklr-io/sysconverge/internal/eval"
	"github.com/picklr-io/sysconverge/internal/history"
	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/picklr-io/sysconverge/internal/provider"
	"github.com/picklr-io/sysconverge/internal/state"
	"github.com/picklr-io/sysconverge/internal/sysadmin"
)

// project is a loaded declaration and the directory it was found in.
type project struct {
	dir        string
	entryPoint string
	cfg        *ir.Config
}

// resolveTarget splits an optional path argument into a project directory
// and an entry point; an empty entry point selects the defaults.
func resolveTarget(args []string) (string, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if len(args) == 0 {
		return wd, "", nil
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if info.IsDir() {
		return absPath, "", nil
	}
	return filepath.Dir(absPath), filepath.Base(absPath), nil
}

// loadProject evaluates the declaration named by args and applies flag
// overrides to it.
func loadProject(ctx context.Context, args []string) (*project, error) {
	dir, entryPoint, err := resolveTarget(args)
	if err != nil {
		return nil, err
	}

	evaluator := eval.NewEvaluator(dir)
	path, err := evaluator.ResolveEntryPoint(entryPoint)
	if err != nil {
		return nil, err
	}
	cfg, err := evaluator.LoadConfig(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load declaration: %w", err)
	}

	if flags.aliasFile != "" {
		cfg.AliasFile = flags.aliasFile
	}
	if cfg.AliasFile == "" {
		cfg.AliasFile = sysadmin.DefaultAliasFile
	}

	return &project{dir: dir, entryPoint: path, cfg: cfg}, nil
}

// prepare expands the declaration and schedules it. Errors here mean the
// declaration is invalid and nothing may be touched.
func (p *project) prepare() (*engine.Model, *engine.StageGraph, error) {
	m, err := sysadmin.Build(p.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid declaration: %w", err)
	}
	sched, err := engine.Prepare(m)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid declaration: %w", err)
	}
	return m, sched, nil
}

func (p *project) newEngine(ctx context.Context) (*engine.Engine, error) {
	registry := provider.NewRegistry()
	opts := provider.Options{
		AliasFile:      p.cfg.AliasFile,
		Container:      flags.container,
		SkipNewaliases: flags.skipNewaliases,
	}
	if err := registry.LoadProvider(flags.adapter, opts); err != nil {
		return nil, fmt.Errorf("failed to load adapter %s: %w", flags.adapter, err)
	}
	if err := registry.Check(ctx, flags.adapter); err != nil {
		return nil, err
	}
	adapter, err := registry.Get(flags.adapter)
	if err != nil {
		return nil, err
	}

	eng := engine.NewEngine(adapter)
	eng.Parallelism = flags.parallelism
	eng.Timeout = flags.timeout
	return eng, nil
}

func (p *project) backend() (state.Backend, error) {
	return state.NewBackend(p.cfg.Backend, statePath(p.dir))
}

// hostName names the converged host in state, history and notifications.
func (p *project) hostName() string {
	if flags.adapter == "docker" && flags.container != "" {
		return "docker:" + flags.container
	}
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

func statePath(dir string) string {
	if flags.statePath != "" {
		return flags.statePath
	}
	return filepath.Join(dir, state.DefaultPath)
}

// openHistory opens the run ledger, or returns nil when history is off.
func openHistory(dir string) (*history.Store, error) {
	path := flags.historyPath
	switch path {
	case "off":
		return nil, nil
	case "":
		path = filepath.Join(dir, history.DefaultPath)
	}
	return history.Open(path)
}

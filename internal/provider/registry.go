package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/picklr-io/sysconverge/providers/docker"
	"github.com/picklr-io/sysconverge/providers/null"
	"github.com/picklr-io/sysconverge/providers/system"
)

// Options configures how an adapter reaches its host.
type Options struct {
	AliasFile      string
	Container      string // docker adapter only
	SkipNewaliases bool
}

// Registry manages the lifecycle of host adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ir.Adapter
	checks   map[string]func(context.Context) error
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]ir.Adapter),
		checks:   make(map[string]func(context.Context) error),
	}
}

// Names lists the adapters LoadProvider accepts.
func Names() []string {
	names := []string{"null", "system", "docker"}
	sort.Strings(names)
	return names
}

// LoadProvider initializes and registers an adapter. Loading a name twice
// keeps the first instance.
func (r *Registry) LoadProvider(name string, opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return nil
	}

	sysOpts := []system.Option{system.WithAliasFile(opts.AliasFile)}
	if opts.SkipNewaliases {
		sysOpts = append(sysOpts, system.WithoutNewaliases())
	}

	var a ir.Adapter
	switch name {
	case "null":
		a = null.New()
	case "system":
		a = system.New(system.ExecRunner{}, sysOpts...)
	case "docker":
		if opts.Container == "" {
			return fmt.Errorf("docker adapter requires a container")
		}
		runner := docker.New(opts.Container)
		r.checks[name] = runner.Check
		a = system.New(runner, sysOpts...)
	default:
		return fmt.Errorf("unknown adapter: %s", name)
	}

	r.adapters[name] = a
	return nil
}

// Get returns a registered adapter.
func (r *Registry) Get(name string) (ir.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter not loaded: %s", name)
	}
	return a, nil
}

// Check verifies a loaded adapter can reach its host. Adapters without a
// reachability check always pass.
func (r *Registry) Check(ctx context.Context, name string) error {
	r.mu.RLock()
	check, ok := r.checks[name]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return check(ctx)
}

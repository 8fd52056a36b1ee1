package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/apple/pkl-go/pkl"
	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultEntryPoints are tried in order when no declaration file is named.
var DefaultEntryPoints = []string{"sysadmin.pkl", "sysadmin.yaml", "sysadmin.yml", "sysadmin.jsonc", "sysadmin.json"}

// Evaluator loads host declarations into IR types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// ResolveEntryPoint returns the declaration file to load: entryPoint when
// given, otherwise the first default that exists in the project directory.
func (e *Evaluator) ResolveEntryPoint(entryPoint string) (string, error) {
	if entryPoint != "" {
		if !filepath.IsAbs(entryPoint) {
			entryPoint = filepath.Join(e.projectDir, entryPoint)
		}
		return entryPoint, nil
	}
	for _, name := range DefaultEntryPoints {
		path := filepath.Join(e.projectDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no declaration found in %s (looked for %s)", e.projectDir, strings.Join(DefaultEntryPoints, ", "))
}

// LoadConfig evaluates the declaration file and returns the IR. The format is
// chosen by extension: .pkl, .yaml/.yml, or .json/.jsonc.
func (e *Evaluator) LoadConfig(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Config, error) {
	path, err := e.ResolveEntryPoint(entryPoint)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkl":
		return e.loadPkl(ctx, path, properties)
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		cfg, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, nil
	case ".json", ".jsonc":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		cfg, err := ParseJSONC(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("unsupported declaration format %q", filepath.Ext(path))
	}
}

func (e *Evaluator) loadPkl(ctx context.Context, path string, properties map[string]string) (*ir.Config, error) {
	u, err := url.Parse("file://" + e.projectDir + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	// a PklProject file makes the directory a project with its own dependencies
	var evaluator pkl.Evaluator
	if _, statErr := os.Stat(filepath.Join(e.projectDir, "PklProject")); statErr == nil {
		evaluator, err = pkl.NewProjectEvaluator(ctx, u, opts...)
	} else {
		evaluator, err = pkl.NewEvaluator(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var cfg ir.Config
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(path), &cfg); err != nil {
		return nil, fmt.Errorf("failed to evaluate config: %w", err)
	}

	return &cfg, nil
}

// ParseYAML decodes a YAML declaration. Unknown fields are rejected.
func ParseYAML(data []byte) (*ir.Config, error) {
	var cfg ir.Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing declaration: %w", err)
	}
	return &cfg, nil
}

// ParseJSONC strips comments and trailing commas, then decodes a JSON
// declaration. Unknown fields are rejected.
func ParseJSONC(data []byte) (*ir.Config, error) {
	var cfg ir.Config
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing declaration: %w", err)
	}
	return &cfg, nil
}

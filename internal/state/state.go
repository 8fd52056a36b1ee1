package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/picklr-io/sysconverge/internal/ir"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the state format this build reads and writes.
const CurrentVersion = 1

// DefaultPath is where the local state lives when no path is configured.
const DefaultPath = ".sysconverge/state.yaml"

// Manager handles reading and writing of the local state file.
type Manager struct {
	path     string
	lockFile *os.File
}

func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath
	}
	return &Manager{path: path}
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.path
}

// Read loads the state from the configured path. A missing file yields an
// empty state. Encrypted files are decrypted transparently.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return newState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	state, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}
	return state, nil
}

// Write bumps the serial and saves the state to the configured path. When
// SYSCONVERGE_STATE_PASSPHRASE is set the file is encrypted.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := Encode(state)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", m.path, err)
	}
	return nil
}

// Encode prepares state for storage: it assigns a lineage to fresh state,
// increments the serial, marshals YAML and encrypts when a passphrase is set.
func Encode(state *ir.State) ([]byte, error) {
	if state.Version == 0 {
		state.Version = CurrentVersion
	}
	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}
	state.Serial++

	var buf bytes.Buffer
	buf.WriteString("# sysconverge state\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(state); err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	out, err := EncryptState(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}
	return out, nil
}

// Decode parses stored state, decrypting it first when needed.
func Decode(raw []byte) (*ir.State, error) {
	content, err := DecryptState(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}

	state := newState()
	if err := yaml.Unmarshal(content, state); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if state.Version > CurrentVersion {
		return nil, fmt.Errorf("state version %d is newer than supported version %d", state.Version, CurrentVersion)
	}
	return state, nil
}

func newState() *ir.State {
	return &ir.State{Version: CurrentVersion}
}

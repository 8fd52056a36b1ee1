package state

import (
	"context"
	"fmt"

	"github.com/picklr-io/sysconverge/internal/ir"
)

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// NewBackend creates a state backend from the declaration's backend block.
// A nil or local configuration stores state at localPath, unless the block
// names its own "path".
func NewBackend(cfg *ir.BackendConfig, localPath string) (Backend, error) {
	if cfg == nil {
		return NewManager(localPath), nil
	}

	switch cfg.Type {
	case "local", "":
		if p := cfg.Config["path"]; p != "" {
			localPath = p
		}
		return NewManager(localPath), nil
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

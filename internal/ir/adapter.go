package ir

import (
	"context"
	"fmt"
)

// Adapter performs OS mutations on behalf of the engine. Every method must be
// idempotent and should honour the deadline carried by ctx.
type Adapter interface {
	InspectAccount(ctx context.Context, name string) (*AccountInfo, error)
	CreateOrUpdateAccount(ctx context.Context, name string, spec AccountSpec) error
	RemoveAccount(ctx context.Context, name string) error
	LockPassword(ctx context.Context, name string) error
	UnlockPassword(ctx context.Context, name string) error

	InspectFile(ctx context.Context, path string) (*FileInfo, error)
	WriteFile(ctx context.Context, spec FileSpec) error
	EnsureDirectory(ctx context.Context, spec FileSpec) error
	RemoveFile(ctx context.Context, path string) error

	InspectPackages(ctx context.Context, names []string) (map[string]bool, error)
	InstallPackages(ctx context.Context, names []string) error
	RemovePackages(ctx context.Context, names []string) error

	// ReadAliasState returns every entry of the alias file.
	ReadAliasState(ctx context.Context) (AliasState, error)
	// WriteAliasState applies updates in one write. An empty recipient list
	// removes the entry; entries not named in updates are left untouched.
	WriteAliasState(ctx context.Context, updates AliasState) error
}

// AccountInfo is the observed state of an account.
type AccountInfo struct {
	Exists       bool
	Home         string
	Shell        string
	PrimaryGroup string
	Groups       []string // supplementary groups
	Locked       bool
}

// AccountSpec is the desired shape of an account.
type AccountSpec struct {
	UID     *int
	Comment string
	Home    string
	Shell   string
	Groups  []string
}

// FileInfo is the observed state of a file or directory.
type FileInfo struct {
	Exists bool
	IsDir  bool
	Owner  string
	Group  string
	Mode   uint32
	Digest string // content digest, empty for directories
}

// FileSpec describes a file or directory to write.
type FileSpec struct {
	Path    string
	Owner   string
	Group   string
	Mode    uint32
	Content []byte
}

// OsError is an adapter-reported failure of a single primitive.
type OsError struct {
	Op     string // e.g. "useradd"
	Target string
	Err    error
}

func (e *OsError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *OsError) Unwrap() error {
	return e.Err
}

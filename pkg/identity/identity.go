// Package identity persists the service key a registration call returns so
// a later process restart can resume as the same service instead of
// re-registering (C1 of SPEC_FULL.md). Two Store implementations sit behind
// one interface, mirroring the Python original's file/custom persistence
// split (orra.types.PersistenceConfig).
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orra-dev/orra-sdk-go/pkg/orraerr"
)

// ServiceIdentity is the durable identity a registration call returns.
type ServiceIdentity struct {
	ID      string
	Version int
}

// Store loads and saves the one opaque service identity string the control
// plane hands back from registration.
type Store interface {
	Load(ctx context.Context) (id string, ok bool, err error)
	Save(ctx context.Context, id string) error
}

type fileRecord struct {
	ServiceID string `json:"service_id"`
}

// FileStore persists the identity as a small JSON file, written atomically
// via a temp-file-then-rename, the same pattern the arkeep-io agent
// connection manager uses for its state file.
type FileStore struct {
	Path string
}

// DefaultPath returns the conventional identity file location for a named
// service: ./.orra-data/<service-name>-orra-service-key.json under the
// current working directory.
func DefaultPath(serviceName string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("identity: resolve working directory: %w", err)
	}
	return filepath.Join(cwd, ".orra-data", serviceName+"-orra-service-key.json"), nil
}

// NewFileStore builds a FileStore rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the identity file. A missing or corrupt file is reported as
// "no identity" (ok=false, err=nil), not a hard error — the Python original
// treats a first run identically to a corrupted cache.
func (s *FileStore) Load(_ context.Context) (string, bool, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, nil
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.ServiceID == "" {
		return "", false, nil
	}
	return rec.ServiceID, true, nil
}

// Save writes the identity file, creating its parent directory on first use
// and replacing any existing file atomically.
func (s *FileStore) Save(_ context.Context, id string) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("identity: create data directory: %w", err)
	}

	data, err := json.Marshal(fileRecord{ServiceID: id})
	if err != nil {
		return fmt.Errorf("identity: marshal identity record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".orra-service-key-*.tmp")
	if err != nil {
		return fmt.Errorf("identity: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("identity: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("identity: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("identity: replace identity file: %w", err)
	}
	return nil
}

// SaveFunc and LoadFunc are the callback shapes a CustomStore is built from,
// letting a host application back identity persistence with gRPC, MySQL, or
// anything else.
type SaveFunc func(ctx context.Context, id string) error
type LoadFunc func(ctx context.Context) (id string, ok bool, err error)

// CustomStore adapts a pair of caller-supplied callbacks to the Store
// interface.
type CustomStore struct {
	save SaveFunc
	load LoadFunc
}

// NewCustomStore builds a CustomStore from save/load callbacks. Both must be
// non-nil — construction fails the same way the Python original's
// PersistenceConfig validator does when only one of custom_save/custom_load
// is supplied.
func NewCustomStore(save SaveFunc, load LoadFunc) (*CustomStore, error) {
	if save == nil || load == nil {
		return nil, orraerr.InvalidArgument("custom persistence requires both a save and a load callback")
	}
	return &CustomStore{save: save, load: load}, nil
}

func (s *CustomStore) Load(ctx context.Context) (string, bool, error) {
	return s.load(ctx)
}

func (s *CustomStore) Save(ctx context.Context, id string) error {
	return s.save(ctx, id)
}

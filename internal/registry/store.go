package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
)

const registryFileMode = 0o644

// Store reads and writes the registry file. It holds no registry state of its own;
// every Load returns a fresh RegistryFile.
type Store struct {
	path string
	fs   afero.Fs
}

type StoreOption func(*Store)

// WithFs makes the store use fsys instead of the OS filesystem.
func WithFs(fsys afero.Fs) StoreOption {
	return func(s *Store) {
		s.fs = fsys
	}
}

func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path: path,
		fs:   afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string {
	return s.path
}

// BackupPath is where Load keeps the pre-migration copy of a registry written at
// schema version from.
func (s *Store) BackupPath(from int) string {
	return fmt.Sprintf("%s.v%d.bak", s.path, from)
}

// Load reads the registry. A missing file yields an empty registry. Files at an older
// schema version are migrated, backed up and rewritten before Load returns.
func (s *Store) Load() (*RegistryFile, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("registry not found, starting empty", "path", s.path)
		return New(), nil
	} else if err != nil {
		return nil, fmt.Errorf("read registry %q: %w", s.path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %q is empty", ErrCorruptStore, s.path)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrCorruptStore, s.path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %q is not a JSON object", ErrCorruptStore, s.path)
	}

	version, err := DetectVersion(doc)
	if err != nil {
		return nil, fmt.Errorf("registry %q: %w", s.path, err)
	}
	if version > CurrentSchemaVersion {
		return nil, &VersionError{Path: s.path, Found: version, Supported: CurrentSchemaVersion}
	}

	if version < CurrentSchemaVersion {
		return s.upgrade(data, doc, version)
	}

	return s.decode(data)
}

func (s *Store) upgrade(original []byte, doc Document, from int) (*RegistryFile, error) {
	migrated, err := Migrate(doc)
	if err != nil {
		return nil, fmt.Errorf("registry %q: %w", s.path, err)
	}

	data, err := json.Marshal(migrated)
	if err != nil {
		return nil, fmt.Errorf("registry %q: encode migrated document: %w", s.path, err)
	}

	reg, err := s.decode(data)
	if err != nil {
		return nil, err
	}

	backup := s.BackupPath(from)
	if err := afero.WriteFile(s.fs, backup, original, registryFileMode); err != nil {
		return nil, fmt.Errorf("%w: backup %q: %v", ErrRegistryWrite, backup, err)
	}
	if err := s.Save(reg); err != nil {
		return nil, err
	}

	slog.Info("registry upgraded", "path", s.path, "from", from, "to", CurrentSchemaVersion, "backup", backup)
	return reg, nil
}

func (s *Store) decode(data []byte) (*RegistryFile, error) {
	reg := New()
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrCorruptStore, s.path, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrCorruptStore, s.path, err)
	}
	return reg, nil
}

// Save writes reg atomically: the document goes to a temp file in the same directory
// which is then renamed over the registry path.
func (s *Store) Save(reg *RegistryFile) error {
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryWrite, err)
	}
	reg.SchemaVersion = CurrentSchemaVersion

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrRegistryWrite, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %q: %v", ErrRegistryWrite, dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryWrite, err)
	}
	tmpName := tmp.Name()

	fail := func(step string, err error) error {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("%w: %s %q: %v", ErrRegistryWrite, step, s.path, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close", err)
	}
	if err := s.fs.Chmod(tmpName, registryFileMode); err != nil {
		return fail("chmod", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		return fail("rename", err)
	}

	slog.Debug("registry saved", "path", s.path, "directories", len(reg.Directories))
	return nil
}

// RecordLastSync reloads the registry, stamps one remote and saves it. Reloading
// keeps edits made by other invocations since this one started.
func (s *Store) RecordLastSync(dir, name string, at time.Time) error {
	reg, err := s.Load()
	if err != nil {
		return err
	}
	if err := reg.RecordLastSync(dir, name, at); err != nil {
		return err
	}
	return s.Save(reg)
}

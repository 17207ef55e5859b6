// Package registry stores the remotes configured for each local directory.
//
// A RegistryFile is an explicit value: callers Load it from a Store, mutate it with the
// methods below and Save it back. There is no process-wide instance. All mutating
// methods keep two invariants per directory: remote names are unique and at most one
// remote is preferred.
package registry

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// CurrentSchemaVersion is the registry layout written by this build.
const CurrentSchemaVersion = 2

// RemoteConfig is one named destination for a local directory.
type RemoteConfig struct {
	Name           string     `json:"name"`
	Host           string     `json:"host"`
	RemoteDir      string     `json:"remote_dir"`
	OverridePaths  []string   `json:"override_paths"`
	IgnorePatterns []string   `json:"ignore_patterns,omitempty"`
	DeleteOverride bool       `json:"delete_override"`
	PostCommand    string     `json:"post_command,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	IsPreferred    bool       `json:"is_preferred"`

	extra extraFields
}

// Target returns the remote in `host:dir` form.
func (r RemoteConfig) Target() string {
	return r.Host + ":" + r.RemoteDir
}

func (r RemoteConfig) clone() RemoteConfig {
	out := r
	out.OverridePaths = cloneStrings(r.OverridePaths)
	out.IgnorePatterns = cloneStrings(r.IgnorePatterns)
	if r.LastSyncedAt != nil {
		at := *r.LastSyncedAt
		out.LastSyncedAt = &at
	}
	out.extra = r.extra.clone()
	return out
}

// DirectoryEntry owns the remotes of one local directory, in insertion order.
type DirectoryEntry struct {
	Path    string         `json:"-"`
	Remotes []RemoteConfig `json:"remotes"`

	extra extraFields
}

func (d *DirectoryEntry) index(name string) int {
	for i, r := range d.Remotes {
		if r.Name == name {
			return i
		}
	}
	return -1
}

func (d *DirectoryEntry) clearPreferred() {
	for i := range d.Remotes {
		d.Remotes[i].IsPreferred = false
	}
}

// RegistryFile is the persisted document.
type RegistryFile struct {
	SchemaVersion int                        `json:"schema_version"`
	Directories   map[string]*DirectoryEntry `json:"directories"`

	extra extraFields
}

// New returns an empty registry at the current schema version.
func New() *RegistryFile {
	return &RegistryFile{
		SchemaVersion: CurrentSchemaVersion,
		Directories:   map[string]*DirectoryEntry{},
	}
}

// Entry returns the entry for dir, or nil when the directory has no remotes.
func (f *RegistryFile) Entry(dir string) *DirectoryEntry {
	return f.Directories[dir]
}

// Dirs returns the configured directories in lexical order.
func (f *RegistryFile) Dirs() []string {
	dirs := make([]string, 0, len(f.Directories))
	for dir := range f.Directories {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// ListRemotes returns copies of the remotes of dir in insertion order.
func (f *RegistryFile) ListRemotes(dir string) []RemoteConfig {
	entry := f.Entry(dir)
	if entry == nil {
		return nil
	}
	out := make([]RemoteConfig, 0, len(entry.Remotes))
	for _, r := range entry.Remotes {
		out = append(out, r.clone())
	}
	return out
}

func (f *RegistryFile) FindRemote(dir, name string) (RemoteConfig, bool) {
	entry := f.Entry(dir)
	if entry == nil {
		return RemoteConfig{}, false
	}
	if i := entry.index(name); i >= 0 {
		return entry.Remotes[i].clone(), true
	}
	return RemoteConfig{}, false
}

// FindByTarget looks a remote up by host and remote directory. Trailing slashes
// and `.` segments in the directory are not significant.
func (f *RegistryFile) FindByTarget(dir, host, remoteDir string) (RemoteConfig, bool) {
	entry := f.Entry(dir)
	if entry == nil {
		return RemoteConfig{}, false
	}
	want := normRemoteDir(remoteDir)
	for _, r := range entry.Remotes {
		if r.Host == host && normRemoteDir(r.RemoteDir) == want {
			return r.clone(), true
		}
	}
	return RemoteConfig{}, false
}

// Preferred returns the preferred remote of dir, if any.
func (f *RegistryFile) Preferred(dir string) (RemoteConfig, bool) {
	entry := f.Entry(dir)
	if entry == nil {
		return RemoteConfig{}, false
	}
	for _, r := range entry.Remotes {
		if r.IsPreferred {
			return r.clone(), true
		}
	}
	return RemoteConfig{}, false
}

// AddRemote appends cfg to the remotes of dir. The first remote of a directory is
// preferred implicitly; adding a remote marked preferred un-marks the others.
func (f *RegistryFile) AddRemote(dir string, cfg RemoteConfig) error {
	if err := validateRemote(cfg); err != nil {
		return err
	}

	entry := f.Entry(dir)
	if entry == nil {
		entry = &DirectoryEntry{Path: dir}
	} else if entry.index(cfg.Name) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateName, cfg.Name)
	}

	cfg = cfg.clone()
	if len(entry.Remotes) == 0 {
		cfg.IsPreferred = true
	} else if cfg.IsPreferred {
		entry.clearPreferred()
	}

	entry.Remotes = append(entry.Remotes, cfg)
	f.Directories[dir] = entry
	return nil
}

// UpdateRemote replaces the remote with the same name. Marking it preferred
// un-marks the others.
func (f *RegistryFile) UpdateRemote(dir string, cfg RemoteConfig) error {
	if err := validateRemote(cfg); err != nil {
		return err
	}

	entry := f.Entry(dir)
	if entry == nil || entry.index(cfg.Name) < 0 {
		return fmt.Errorf("%w: %q", ErrRemoteNotFound, cfg.Name)
	}

	if cfg.IsPreferred {
		entry.clearPreferred()
	}
	entry.Remotes[entry.index(cfg.Name)] = cfg.clone()
	return nil
}

// RemoveRemote deletes a remote by name. A removed preferred remote is not replaced;
// removing the last remote drops the directory entry.
func (f *RegistryFile) RemoveRemote(dir, name string) error {
	entry := f.Entry(dir)
	if entry == nil {
		return fmt.Errorf("%w: %q", ErrRemoteNotFound, name)
	}

	i := entry.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrRemoteNotFound, name)
	}

	entry.Remotes = append(entry.Remotes[:i], entry.Remotes[i+1:]...)
	if len(entry.Remotes) == 0 {
		delete(f.Directories, dir)
	}
	return nil
}

// SetPreferred makes name the only preferred remote of dir.
func (f *RegistryFile) SetPreferred(dir, name string) error {
	entry := f.Entry(dir)
	if entry == nil {
		return fmt.Errorf("%w: %q", ErrRemoteNotFound, name)
	}

	i := entry.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrRemoteNotFound, name)
	}

	entry.clearPreferred()
	entry.Remotes[i].IsPreferred = true
	return nil
}

// RecordLastSync stamps the remote with the time of a successful sync.
func (f *RegistryFile) RecordLastSync(dir, name string, at time.Time) error {
	entry := f.Entry(dir)
	if entry == nil {
		return fmt.Errorf("%w: %q", ErrRemoteNotFound, name)
	}

	i := entry.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrRemoteNotFound, name)
	}

	at = at.UTC()
	entry.Remotes[i].LastSyncedAt = &at
	return nil
}

// Validate checks the per-directory invariants. Load reports failures as ErrCorruptStore.
func (f *RegistryFile) Validate() error {
	for _, dir := range f.Dirs() {
		entry := f.Directories[dir]
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("directory %q is not an absolute path", dir)
		}
		if entry == nil || len(entry.Remotes) == 0 {
			return fmt.Errorf("directory %q has no remotes", dir)
		}

		names := mapset.NewThreadUnsafeSet[string]()
		preferred := 0
		for _, r := range entry.Remotes {
			if err := validateRemote(r); err != nil {
				return fmt.Errorf("directory %q: %w", dir, err)
			}
			if !names.Add(r.Name) {
				return fmt.Errorf("directory %q: %w: %q", dir, ErrDuplicateName, r.Name)
			}
			if r.IsPreferred {
				preferred++
			}
		}
		if preferred > 1 {
			return fmt.Errorf("directory %q has %d preferred remotes", dir, preferred)
		}
	}
	return nil
}

func validateRemote(cfg RemoteConfig) error {
	if cfg.Name == "" {
		return errors.New("remote name cannot be empty")
	}
	if cfg.Host == "" {
		return fmt.Errorf("remote %q has no host", cfg.Name)
	}
	return nil
}

func normRemoteDir(dir string) string {
	if dir == "" {
		return ""
	}
	return path.Clean(dir)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

// Package plan turns a directory, its selected remote and the resolved ignore rules
// into the ordered list of transfers a sync performs.
package plan

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/openmined/syncr/internal/ignore"
	"github.com/openmined/syncr/internal/registry"
)

var ErrInvalidOverridePath = errors.New("invalid override path")

type OverridePathError struct {
	Path   string
	Reason string
}

func (e *OverridePathError) Error() string {
	return fmt.Sprintf("override path %q %s", e.Path, e.Reason)
}

func (e *OverridePathError) Unwrap() error {
	return ErrInvalidOverridePath
}

// TransferOp is one invocation of the transfer tool.
type TransferOp struct {
	// Source is the absolute local path being sent.
	Source string
	// Anchor and RelPath split Source for override ops: RelPath is recreated under
	// RemoteDir. Both are empty for the primary op.
	Anchor  string
	RelPath string

	Host      string
	RemoteDir string
	// Dest is the remote location in `host:path` form.
	Dest string

	Delete bool
	IsDir  bool
	// Excludes is nil for override ops, which bypass ignore filtering.
	Excludes *ignore.Rules
}

func (op TransferOp) IsPrimary() bool {
	return op.RelPath == ""
}

type Plan struct {
	Root   string
	Remote registry.RemoteConfig
	Ops    []TransferOp
}

// Build returns the primary op for root followed by one op per override path of
// remote, in order. Any invalid override path fails the whole plan.
func Build(root string, remote registry.RemoteConfig, rules *ignore.Rules) (*Plan, error) {
	ops := make([]TransferOp, 0, len(remote.OverridePaths)+1)
	ops = append(ops, TransferOp{
		Source:    root,
		Host:      remote.Host,
		RemoteDir: remote.RemoteDir,
		Dest:      remote.Target(),
		Delete:    true,
		IsDir:     true,
		Excludes:  rules,
	})

	for _, p := range remote.OverridePaths {
		op, err := overrideOp(root, remote, p)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	return &Plan{Root: root, Remote: remote, Ops: ops}, nil
}

func overrideOp(root string, remote registry.RemoteConfig, p string) (TransferOp, error) {
	resolved, err := resolveOverride(root, p)
	if err != nil {
		return TransferOp{}, err
	}

	if resolved == root {
		return TransferOp{}, &OverridePathError{Path: p, Reason: "is the sync root itself"}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return TransferOp{}, &OverridePathError{Path: p, Reason: "does not exist"}
	}

	anchor, rel, ok := splitOverride(root, resolved)
	if !ok {
		return TransferOp{}, &OverridePathError{Path: p, Reason: "is outside " + root + " and its parent directory"}
	}

	remotePath := path.Join(remote.RemoteDir, filepath.ToSlash(rel))
	return TransferOp{
		Source:    resolved,
		Anchor:    anchor,
		RelPath:   rel,
		Host:      remote.Host,
		RemoteDir: remote.RemoteDir,
		Dest:      remote.Host + ":" + remotePath,
		Delete:    remote.DeleteOverride,
		IsDir:     info.IsDir(),
	}, nil
}

// resolveOverride makes p absolute relative to root and evaluates symlinks in its
// parent directory, so it compares with the canonical root.
func resolveOverride(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", &OverridePathError{Path: p, Reason: "is empty"}
	}

	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", &OverridePathError{Path: p, Reason: err.Error()}
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(root, expanded)
	}
	expanded = filepath.Clean(expanded)

	parent, err := filepath.EvalSymlinks(filepath.Dir(expanded))
	if err != nil {
		return "", &OverridePathError{Path: p, Reason: "does not exist"}
	}
	return filepath.Join(parent, filepath.Base(expanded)), nil
}

// splitOverride accepts paths below root, which keep their path relative to root,
// and paths elsewhere below root's parent, which are sent under their base name.
// A root whose parent is the filesystem root has no such siblings.
func splitOverride(root, p string) (anchor, rel string, ok bool) {
	if rel, ok := below(root, p); ok {
		return root, rel, true
	}
	parent := filepath.Dir(root)
	if filepath.Dir(parent) == parent {
		return "", "", false
	}
	if _, ok := below(parent, p); ok {
		return filepath.Dir(p), filepath.Base(p), true
	}
	return "", "", false
}

func below(dir, p string) (string, bool) {
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

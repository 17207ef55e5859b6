// Package selector decides which configured remote a sync of a directory targets.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/openmined/syncr/internal/registry"
)

var (
	ErrIncompleteTarget  = errors.New("remote host and remote directory must be given together")
	ErrPromptUnavailable = errors.New("no remote selected and prompting is not available")
)

// Prompter asks the user when the registry and the command line do not decide the
// remote on their own.
type Prompter interface {
	// PromptNewRemote asks for the target of a directory that has no remotes yet.
	PromptNewRemote(ctx context.Context, dir string) (host, remoteDir string, err error)
	// ChooseRemote asks which of several remotes to use and returns its name.
	ChooseRemote(ctx context.Context, dir string, remotes []registry.RemoteConfig) (string, error)
}

// Request carries the remote selector and the remote parameters given on the command
// line. Nil pointers and empty slices leave the stored value untouched.
type Request struct {
	Name      string
	Host      string
	RemoteDir string
	Preferred bool

	OverridePaths  []string
	IgnorePatterns []string
	PostCommand    *string
	DeleteOverride *bool
}

func (r Request) hasTarget() bool {
	return r.Host != "" || r.RemoteDir != ""
}

type Selection struct {
	Remote registry.RemoteConfig
	// Created is set when the remote was added by this selection.
	Created bool
	// Changed is set when reg was modified and should be saved.
	Changed bool
}

// Select resolves the remote for dir and applies the parameters of req to it. reg is
// updated in place; the caller persists it when Selection.Changed is set.
func Select(ctx context.Context, reg *registry.RegistryFile, dir string, req Request, p Prompter) (Selection, error) {
	if req.hasTarget() && (req.Host == "" || req.RemoteDir == "") {
		return Selection{}, ErrIncompleteTarget
	}

	var (
		name       string
		sel        Selection
		retargeted bool
		err        error
	)

	switch {
	case req.hasTarget():
		name, sel.Created, retargeted, err = selectByTarget(reg, dir, req)
	case req.Name != "":
		if _, ok := reg.FindRemote(dir, req.Name); !ok {
			return Selection{}, fmt.Errorf("%w: %q", registry.ErrRemoteNotFound, req.Name)
		}
		name = req.Name
	default:
		name, sel.Created, err = selectImplicit(ctx, reg, dir, req, p)
	}
	if err != nil {
		return Selection{}, err
	}

	updated, err := applyParams(reg, dir, name, req)
	if err != nil {
		return Selection{}, err
	}
	sel.Changed = sel.Created || retargeted || updated

	sel.Remote, _ = reg.FindRemote(dir, name)
	slog.Debug("remote selected", "dir", dir, "name", name, "target", sel.Remote.Target(),
		"created", sel.Created, "changed", sel.Changed)
	return sel, nil
}

// selectByTarget looks the target up first, so a remote already pointing at it is
// reused whatever name was asked for. Otherwise a named remote is retargeted or added.
func selectByTarget(reg *registry.RegistryFile, dir string, req Request) (name string, created, retargeted bool, err error) {
	if existing, ok := reg.FindByTarget(dir, req.Host, req.RemoteDir); ok {
		if req.Name != "" && req.Name != existing.Name {
			slog.Info("target already configured, using existing remote",
				"requested", req.Name, "name", existing.Name, "target", existing.Target())
		}
		return existing.Name, false, false, nil
	}

	if req.Name == "" {
		name, created, err = addRemote(reg, dir, UniqueName(reg, dir, req.Host, req.RemoteDir), req.Host, req.RemoteDir)
		return name, created, false, err
	}

	existing, ok := reg.FindRemote(dir, req.Name)
	if !ok {
		name, created, err = addRemote(reg, dir, req.Name, req.Host, req.RemoteDir)
		return name, created, false, err
	}
	existing.Host = req.Host
	existing.RemoteDir = req.RemoteDir
	if err := reg.UpdateRemote(dir, existing); err != nil {
		return "", false, false, err
	}
	slog.Info("remote retargeted", "name", existing.Name, "target", existing.Target())
	return existing.Name, false, true, nil
}

func selectImplicit(ctx context.Context, reg *registry.RegistryFile, dir string, req Request, p Prompter) (string, bool, error) {
	remotes := reg.ListRemotes(dir)

	switch len(remotes) {
	case 0:
		if p == nil {
			return "", false, ErrPromptUnavailable
		}
		host, remoteDir, err := p.PromptNewRemote(ctx, dir)
		if err != nil {
			return "", false, err
		}
		if host == "" || remoteDir == "" {
			return "", false, ErrIncompleteTarget
		}
		return addRemote(reg, dir, UniqueName(reg, dir, host, remoteDir), host, remoteDir)

	case 1:
		return remotes[0].Name, false, nil
	}

	if r, ok := reg.Preferred(dir); ok {
		return r.Name, false, nil
	}

	if p == nil {
		return "", false, ErrPromptUnavailable
	}
	name, err := p.ChooseRemote(ctx, dir, remotes)
	if err != nil {
		return "", false, err
	}
	if _, ok := reg.FindRemote(dir, name); !ok {
		return "", false, fmt.Errorf("%w: %q", registry.ErrRemoteNotFound, name)
	}
	return name, false, nil
}

func addRemote(reg *registry.RegistryFile, dir, name, host, remoteDir string) (string, bool, error) {
	cfg := registry.RemoteConfig{
		Name:          name,
		Host:          host,
		RemoteDir:     remoteDir,
		OverridePaths: []string{},
	}
	if err := reg.AddRemote(dir, cfg); err != nil {
		return "", false, err
	}
	slog.Info("remote added", "dir", dir, "name", name, "target", cfg.Target())
	return name, true, nil
}

func applyParams(reg *registry.RegistryFile, dir, name string, req Request) (bool, error) {
	r, ok := reg.FindRemote(dir, name)
	if !ok {
		return false, fmt.Errorf("%w: %q", registry.ErrRemoteNotFound, name)
	}

	changed := false
	if len(req.OverridePaths) > 0 && !slices.Equal(r.OverridePaths, req.OverridePaths) {
		r.OverridePaths = slices.Clone(req.OverridePaths)
		changed = true
	}
	if len(req.IgnorePatterns) > 0 && !slices.Equal(r.IgnorePatterns, req.IgnorePatterns) {
		r.IgnorePatterns = slices.Clone(req.IgnorePatterns)
		changed = true
	}
	if req.PostCommand != nil && r.PostCommand != *req.PostCommand {
		r.PostCommand = *req.PostCommand
		changed = true
	}
	if req.DeleteOverride != nil && r.DeleteOverride != *req.DeleteOverride {
		r.DeleteOverride = *req.DeleteOverride
		changed = true
	}
	if req.Preferred && !r.IsPreferred {
		r.IsPreferred = true
		changed = true
	}

	if !changed {
		return false, nil
	}
	return true, reg.UpdateRemote(dir, r)
}

// UniqueName returns the default name for a new remote of dir: `host:remoteDir`,
// suffixed when that name is taken.
func UniqueName(reg *registry.RegistryFile, dir, host, remoteDir string) string {
	var taken []string
	for _, r := range reg.ListRemotes(dir) {
		taken = append(taken, r.Name)
	}
	return registry.UniqueName(host+":"+remoteDir, taken)
}

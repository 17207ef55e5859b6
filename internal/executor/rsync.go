package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/openmined/syncr/internal/plan"
)

var (
	ErrRsyncUnsupported = errors.New("unsupported rsync version")

	minRsyncVersion = version.Must(version.NewVersion("3.0.0"))
)

// DefaultRsyncFlags archive, compress and show progress.
var DefaultRsyncFlags = []string{"-azP"}

type Rsync struct {
	Path   string
	Flags  []string
	runner Runner
}

func NewRsync(path string, flags []string, runner Runner) *Rsync {
	if path == "" {
		path = "rsync"
	}
	if len(flags) == 0 {
		flags = DefaultRsyncFlags
	}
	return &Rsync{Path: path, Flags: slices.Clone(flags), runner: runner}
}

// Check makes sure the installed rsync is at least 3.0, which the filter and
// relative-path handling of Args relies on.
func (r *Rsync) Check(ctx context.Context) (*version.Version, error) {
	out, code, err := r.runner.Output(ctx, Command{Name: r.Path, Args: []string{"--version"}})
	if err != nil {
		return nil, fmt.Errorf("run %s --version: %w", r.Path, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("%s --version exited with code %d", r.Path, code)
	}

	v, err := ParseRsyncVersion(out)
	if err != nil {
		return nil, err
	}
	if v.LessThan(minRsyncVersion) {
		return v, fmt.Errorf("%w: found %s, need %s or newer", ErrRsyncUnsupported, v, minRsyncVersion)
	}
	return v, nil
}

// ParseRsyncVersion reads the version from `rsync --version` output, whose banner
// looks like "rsync  version 3.2.7  protocol version 31".
func ParseRsyncVersion(out string) (*version.Version, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != "rsync" || fields[1] != "version" {
			continue
		}
		v, err := version.NewVersion(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: cannot parse %q", ErrRsyncUnsupported, fields[2])
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: no version banner in rsync output", ErrRsyncUnsupported)
}

// Args builds the rsync arguments for op. The primary op sends the contents of the
// root into the remote directory. Override ops use --relative with a `/./` marker so
// only RelPath is recreated under the remote directory.
func (r *Rsync) Args(op plan.TransferOp) []string {
	args := slices.Clone(r.Flags)
	if op.Delete {
		args = append(args, "--delete")
	}
	if op.Excludes != nil {
		for _, rule := range op.Excludes.FilterArgs() {
			args = append(args, "--filter", rule)
		}
	}

	if op.IsPrimary() {
		args = append(args, strings.TrimSuffix(op.Source, "/")+"/")
	} else {
		args = append(args, "--relative", strings.TrimSuffix(op.Anchor, "/")+"/./"+filepath.ToSlash(op.RelPath))
	}

	return append(args, remoteDest(op.Host, op.RemoteDir))
}

func (r *Rsync) Transfer(ctx context.Context, op plan.TransferOp) (int, error) {
	return r.runner.Run(ctx, Command{Name: r.Path, Args: r.Args(op)})
}

func remoteDest(host, remoteDir string) string {
	if remoteDir == "" {
		return host + ":"
	}
	if !strings.HasSuffix(remoteDir, "/") {
		remoteDir += "/"
	}
	return host + ":" + remoteDir
}

package executor

import (
	"context"
	"strings"

	"github.com/openmined/syncr/internal/utils"
)

type SSH struct {
	Path   string
	runner Runner
}

func NewSSH(path string, runner Runner) *SSH {
	if path == "" {
		path = "ssh"
	}
	return &SSH{Path: path, runner: runner}
}

// ShellArgs returns the ssh arguments that open a login shell on host inside
// remoteDir. A relative remoteDir is relative to the remote home, where ssh starts.
func (s *SSH) ShellArgs(host, remoteDir string) []string {
	remote := "exec $SHELL -l"
	if cd := cdCommand(remoteDir); cd != "" {
		remote = cd + " && " + remote
	}
	return []string{"-t", host, remote}
}

// OpenShell hands the terminal to an interactive remote shell and blocks until it
// exits.
func (s *SSH) OpenShell(ctx context.Context, host, remoteDir string) (int, error) {
	return s.runner.Run(ctx, Command{
		Name:        s.Path,
		Args:        s.ShellArgs(host, remoteDir),
		Interactive: true,
	})
}

func cdCommand(dir string) string {
	switch {
	case dir == "" || dir == "~":
		return ""
	case strings.HasPrefix(dir, "~/"):
		rest := strings.TrimPrefix(dir, "~/")
		if rest == "" {
			return ""
		}
		return "cd ~/" + utils.ShellQuote(rest)
	default:
		return "cd " + utils.ShellQuote(dir)
	}
}

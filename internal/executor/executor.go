// Package executor runs a sync plan: the transfers, the post-sync command and the
// optional remote shell, in that order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/syncr/internal/plan"
)

var (
	ErrTransferFailed    = errors.New("transfer failed")
	ErrPostCommandFailed = errors.New("post-sync command failed")
)

// TransferError reports the op that stopped the sync. Ops after Index did not run.
type TransferError struct {
	Index    int
	Source   string
	Dest     string
	ExitCode int
	Err      error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer %d (%s -> %s) failed: %v", e.Index, e.Source, e.Dest, e.Err)
	}
	return fmt.Sprintf("transfer %d (%s -> %s) failed with exit code %d", e.Index, e.Source, e.Dest, e.ExitCode)
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

type PostCommandError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *PostCommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("post-sync command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("post-sync command %q exited with code %d", e.Command, e.ExitCode)
}

func (e *PostCommandError) Is(target error) bool {
	return target == ErrPostCommandFailed
}

func (e *PostCommandError) Unwrap() error {
	return e.Err
}

// LastSyncRecorder persists the time of a successful sync.
type LastSyncRecorder interface {
	RecordLastSync(dir, name string, at time.Time) error
}

type Config struct {
	RsyncPath  string
	RsyncFlags []string
	SSHPath    string
	// Shell runs the post-sync command as `Shell -c command`.
	Shell string
}

type Options struct {
	OpenShell bool
	// OnOpStart is called before each transfer starts.
	OnOpStart func(index int, op plan.TransferOp)
}

type Result struct {
	// Completed counts the transfers that finished successfully.
	Completed      int
	RegistryErr    error
	PostCommandErr error
	ShellExitCode  int
}

type Executor struct {
	Rsync  *Rsync
	SSH    *SSH
	Shell  string
	Now    func() time.Time
	runner Runner
}

func New(cfg Config, runner Runner) *Executor {
	shell := cfg.Shell
	if shell == "" {
		shell = "sh"
	}
	return &Executor{
		Rsync:  NewRsync(cfg.RsyncPath, cfg.RsyncFlags, runner),
		SSH:    NewSSH(cfg.SSHPath, runner),
		Shell:  shell,
		Now:    time.Now,
		runner: runner,
	}
}

// Execute runs the ops of p in order and stops at the first failure. After all ops
// succeed it records the sync through rec, runs the remote's post-sync command and
// opens the remote shell if asked. Failures of those later steps are returned in the
// Result and do not fail Execute.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, rec LastSyncRecorder, opts Options) (*Result, error) {
	v, err := e.Rsync.Check(ctx)
	if err != nil {
		return nil, err
	}
	slog.Debug("rsync version", "path", e.Rsync.Path, "version", v)

	res := &Result{}
	for i, op := range p.Ops {
		if opts.OnOpStart != nil {
			opts.OnOpStart(i, op)
		}

		slog.Debug("transfer start", "index", i, "cmd", Command{Name: e.Rsync.Path, Args: e.Rsync.Args(op)}.String())

		start := e.Now()
		code, err := e.Rsync.Transfer(ctx, op)
		if err != nil || code != 0 {
			return res, &TransferError{Index: i, Source: op.Source, Dest: op.Dest, ExitCode: code, Err: err}
		}

		slog.Debug("transfer done", "index", i, "took", e.Now().Sub(start))
		res.Completed++
	}

	if rec != nil {
		if err := rec.RecordLastSync(p.Root, p.Remote.Name, e.Now()); err != nil {
			slog.Warn("failed to record last sync", "dir", p.Root, "remote", p.Remote.Name, "error", err)
			res.RegistryErr = err
		}
	}

	if p.Remote.PostCommand != "" {
		res.PostCommandErr = e.runPostCommand(ctx, p.Root, p.Remote.PostCommand)
	}

	if opts.OpenShell {
		res.ShellExitCode = e.openShell(ctx, p)
	}

	return res, nil
}

func (e *Executor) runPostCommand(ctx context.Context, dir, command string) error {
	slog.Info("running post-sync command", "command", command, "dir", dir)

	code, err := e.runner.Run(ctx, Command{Name: e.Shell, Args: []string{"-c", command}, Dir: dir})
	if err != nil || code != 0 {
		perr := &PostCommandError{Command: command, ExitCode: code, Err: err}
		slog.Error("post-sync command failed", "command", command, "exitCode", code, "error", err)
		return perr
	}
	return nil
}

func (e *Executor) openShell(ctx context.Context, p *plan.Plan) int {
	slog.Debug("opening remote shell", "host", p.Remote.Host, "dir", p.Remote.RemoteDir)

	code, err := e.SSH.OpenShell(ctx, p.Remote.Host, p.Remote.RemoteDir)
	if err != nil {
		slog.Warn("remote shell failed", "host", p.Remote.Host, "error", err)
	} else if code != 0 {
		slog.Info("remote shell exited", "host", p.Remote.Host, "exitCode", code)
	}
	return code
}

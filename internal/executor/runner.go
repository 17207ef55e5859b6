package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/openmined/syncr/internal/utils"
)

// Command is one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Interactive connects stdin to the process as well as the output streams.
	Interactive bool
}

// String renders the command as it could be typed in a shell.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, utils.ShellQuote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, utils.ShellQuote(a))
	}
	return strings.Join(parts, " ")
}

// Runner starts external processes. A process that runs and exits non-zero is not an
// error: the exit code is returned with a nil error. Errors mean the process could
// not be started or was cancelled, in which case the exit code is -1.
type Runner interface {
	// Run streams the process output to the terminal and waits for it to exit.
	Run(ctx context.Context, cmd Command) (int, error)
	// Output captures stdout and waits for the process to exit.
	Output(ctx context.Context, cmd Command) (string, int, error)
}

// ProcessRunner runs commands with os/exec.
type ProcessRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (r *ProcessRunner) Run(ctx context.Context, c Command) (int, error) {
	cmd := r.command(ctx, c)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if c.Interactive {
		cmd.Stdin = r.Stdin
	}
	return exitCode(ctx, cmd.Run())
}

func (r *ProcessRunner) Output(ctx context.Context, c Command) (string, int, error) {
	var stdout bytes.Buffer
	cmd := r.command(ctx, c)
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr
	code, err := exitCode(ctx, cmd.Run())
	return stdout.String(), code, err
}

func (r *ProcessRunner) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	return cmd
}

func exitCode(ctx context.Context, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("start process: %w", err)
}

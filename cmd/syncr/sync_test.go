package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/openmined/syncr/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func loadRegistry(t *testing.T, e *cliEnv) *registry.RegistryFile {
	t.Helper()
	reg, err := registry.NewStore(e.Registry).Load()
	require.NoError(t, err)
	return reg
}

func TestSync_FirstInvocationAddsPreferredRemote(t *testing.T) {
	e := newCLIEnv(t)

	stdout, stderr, code := e.run(t, nil, "devbox", "src/project")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Added remote devbox:src/project")
	assert.Contains(t, stdout, "Sync complete")

	remotes := loadRegistry(t, e).ListRemotes(e.Project)
	require.Len(t, remotes, 1)
	assert.Equal(t, "devbox:src/project", remotes[0].Name)
	assert.True(t, remotes[0].IsPreferred)
	assert.NotNil(t, remotes[0].LastSyncedAt)

	calls := e.calls(t)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "--delete")
	assert.Contains(t, calls[0], e.Project+"/ devbox:src/project/")
}

func TestSync_UsesPreferredRemoteWithoutArgs(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil, "-n", "a", "hosta", "dir-a")
	require.Equal(t, 0, code, stderr)
	_, stderr, code = e.run(t, nil, "-n", "b", "hostb", "dir-b")
	require.Equal(t, 0, code, stderr)

	_, stderr, code = e.run(t, nil)
	require.Equal(t, 0, code, stderr)

	calls := e.calls(t)
	require.Len(t, calls, 3)
	assert.True(t, strings.HasSuffix(calls[2], "hosta:dir-a/"), calls[2])
}

func TestSync_OverridePaths(t *testing.T) {
	e := newCLIEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(e.Project, "assets"), 0o755))

	_, stderr, code := e.run(t, nil, "-o", "assets", "devbox", "work")
	require.Equal(t, 0, code, stderr)

	calls := e.calls(t)
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "--delete")
	assert.NotContains(t, calls[1], "--delete")
	assert.Contains(t, calls[1], "--relative "+e.Project+"/./assets devbox:work/")

	remote, ok := loadRegistry(t, e).FindRemote(e.Project, "devbox:work")
	require.True(t, ok)
	assert.Equal(t, []string{"assets"}, remote.OverridePaths)
}

func TestSync_SingleArgumentIsRejected(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil, "devbox")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "remote host and remote directory must be given together")
	assert.Empty(t, e.calls(t))
}

func TestSync_MissingOverridePathRunsNothing(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil, "-o", "missing", "devbox", "work")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "does not exist")
	assert.Empty(t, e.calls(t))
}

func TestSync_UnknownNameFails(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil, "-n", "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "remote not found")
}

func TestSync_NoTerminalForPrompt(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "prompting is not available")
	assert.Empty(t, e.calls(t))
}

func TestSync_TransferFailure(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, []string{"FAKE_RSYNC_EXIT=23"}, "devbox", "work")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "exit code 23")

	remote, ok := loadRegistry(t, e).FindRemote(e.Project, "devbox:work")
	require.True(t, ok)
	assert.Nil(t, remote.LastSyncedAt)
}

func TestSync_PostCommand(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil, "-p", "touch post-ran", "devbox", "work")
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, filepath.Join(e.Project, "post-ran"))

	remote, ok := loadRegistry(t, e).FindRemote(e.Project, "devbox:work")
	require.True(t, ok)
	assert.Equal(t, "touch post-ran", remote.PostCommand)
}

func TestSync_PostCommandFailureStillOpensShell(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil, "-s", "-p", "exit 3", "devbox", "work")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "exited with code 3")

	calls := e.calls(t)
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[1], "ssh -t devbox"), calls[1])

	remote, ok := loadRegistry(t, e).FindRemote(e.Project, "devbox:work")
	require.True(t, ok)
	assert.NotNil(t, remote.LastSyncedAt)
}

func TestSync_DryRunDoesNotTransfer(t *testing.T) {
	e := newCLIEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.Project, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.Project, "debug.log"), []byte("noise\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.Project, ".gitignore"), []byte("*.log\n"), 0o644))

	stdout, stderr, code := e.run(t, nil, "--dry-run", "devbox", "work")
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, e.calls(t))

	stdout = stripANSI(stdout)
	assert.Contains(t, stdout, "1. primary, delete: "+e.Project+" -> devbox:work")
	assert.Contains(t, stdout, "--filter '- *.log'")
	assert.Contains(t, stdout, "2 files")
}

func TestSync_ListAndRemove(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil, "-n", "dev", "devbox", "work")
	require.Equal(t, 0, code, stderr)

	stdout, stderr, code := e.run(t, nil, "--list")
	require.Equal(t, 0, code, stderr)
	stdout = stripANSI(stdout)
	assert.Contains(t, stdout, "dev (preferred)")
	assert.Contains(t, stdout, "devbox:work")
	assert.NotContains(t, stdout, "never")

	stdout, stderr, code = e.run(t, nil, "--remove", "dev")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Removed remote dev")

	stdout, _, code = e.run(t, nil, "-l")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "No remotes configured for "+e.Project)

	_, stderr, code = e.run(t, nil, "--remove", "dev")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "remote not found")
}

func TestSync_ListFormats(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil, "-n", "dev", "-i", "*.tmp", "devbox", "work")
	require.Equal(t, 0, code, stderr)

	stdout, stderr, code := e.run(t, nil, "--list", "--format", "json")
	require.Equal(t, 0, code, stderr)

	var asJSON dirView
	require.NoError(t, json.Unmarshal([]byte(stdout), &asJSON))
	assert.Equal(t, e.Project, asJSON.Directory)
	require.Len(t, asJSON.Remotes, 1)
	assert.Equal(t, "dev", asJSON.Remotes[0].Name)
	assert.Equal(t, []string{"*.tmp"}, asJSON.Remotes[0].IgnorePatterns)
	assert.True(t, asJSON.Remotes[0].Preferred)

	stdout, stderr, code = e.run(t, nil, "--list", "--format", "yaml")
	require.Equal(t, 0, code, stderr)

	var asYAML dirView
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &asYAML))
	assert.Equal(t, asJSON.Remotes[0].Name, asYAML.Remotes[0].Name)
	assert.Equal(t, "work", asYAML.Remotes[0].RemoteDir)

	_, stderr, code = e.run(t, nil, "--list", "--format", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown format")
}

func TestSync_InvalidIgnorePattern(t *testing.T) {
	e := newCLIEnv(t)

	_, stderr, code := e.run(t, nil, "-i", "[oops", "devbox", "work")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid")
	assert.NoFileExists(t, e.Registry)
}

func TestCLI_Version(t *testing.T) {
	out, code := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "syncr")
}

func TestSync_TransferKeepsReincludedFiles(t *testing.T) {
	e := newCLIEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.Project, ".gitignore"), []byte("*.log\n!keep.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.Project, "keep.log"), []byte("kept\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.Project, "debug.log"), []byte("noise\n"), 0o644))

	stdout, stderr, code := e.run(t, nil, "--dry-run", "devbox", "work")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stripANSI(stdout), "--filter '+ keep.log' --filter '- *.log'")
	assert.Contains(t, stripANSI(stdout), "2 files")

	_, stderr, code = e.run(t, nil)
	require.Equal(t, 0, code, stderr)

	calls := e.calls(t)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "--filter + keep.log --filter - *.log")
}

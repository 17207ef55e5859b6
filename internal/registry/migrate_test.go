package registry

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyCache = `{
	"/home/alice/project": {
		"remote_host": "devbox",
		"remote_dir": "src/project",
		"override_paths": ["/home/alice/shared"],
		"post_sync_command": "make build"
	},
	"/home/alice/notes": {
		"remote_host": "nas",
		"remote_dir": "/backup/notes",
		"override_paths": [],
		"post_sync_command": null
	}
}`

const versionedCache = `{
	"version": "0.4.2",
	"entries": {
		"/home/alice/project": [
			{"name": "dev", "remote_host": "devbox", "remote_dir": "src/project",
			 "override_paths": [], "post_sync_command": null, "preferred": true,
			 "ignore_patterns": ["*.log"], "color": "blue"},
			{"name": "dev", "remote_host": "ci", "remote_dir": "/srv/project",
			 "override_paths": [], "post_sync_command": "make", "preferred": true,
			 "ignore_patterns": []}
		],
		"/home/alice/empty": []
	}
}`

func decodeDoc(t *testing.T, data string) Document {
	t.Helper()
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(data), &doc))
	return doc
}

func remotesOf(t *testing.T, doc Document, dir string) []map[string]any {
	t.Helper()
	dirs, ok := doc["directories"].(map[string]any)
	require.True(t, ok, "directories should be an object")
	entry, ok := dirs[dir].(map[string]any)
	require.True(t, ok, "missing directory %s", dir)

	var out []map[string]any
	for _, r := range entry["remotes"].([]any) {
		out = append(out, r.(map[string]any))
	}
	return out
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "legacy", input: legacyCache, want: 0},
		{name: "empty object", input: `{}`, want: 0},
		{name: "versioned", input: versionedCache, want: 1},
		{name: "current", input: `{"schema_version": 2, "directories": {}}`, want: 2},
		{name: "future", input: `{"schema_version": 7}`, want: 7},
		{name: "huge", input: `{"schema_version": 1e20}`, want: maxVersion},
		{name: "huge string", input: `{"schema_version": "99999999999999999999999"}`, want: maxVersion},
		{name: "fractional", input: `{"schema_version": 1.5}`, wantErr: true},
		{name: "negative", input: `{"schema_version": -1}`, wantErr: true},
		{name: "huge negative", input: `{"schema_version": -1e20}`, wantErr: true},
		{name: "not a number", input: `{"schema_version": "two"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectVersion(decodeDoc(t, tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCorruptStore)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMigrate_LegacyCache(t *testing.T) {
	out, err := Migrate(decodeDoc(t, legacyCache))
	require.NoError(t, err)

	version, err := DetectVersion(out)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	project := remotesOf(t, out, "/home/alice/project")
	require.Len(t, project, 1)
	assert.Equal(t, "devbox_src_project", project[0]["name"])
	assert.Equal(t, "devbox", project[0]["host"])
	assert.Equal(t, "src/project", project[0]["remote_dir"])
	assert.Equal(t, []any{"/home/alice/shared"}, project[0]["override_paths"])
	assert.Equal(t, "make build", project[0]["post_command"])
	assert.Equal(t, false, project[0]["delete_override"])
	assert.Equal(t, true, project[0]["is_preferred"])
	assert.NotContains(t, project[0], "remote_host")
	assert.NotContains(t, project[0], "post_sync_command")

	notes := remotesOf(t, out, "/home/alice/notes")
	require.Len(t, notes, 1)
	assert.Equal(t, "nas__backup_notes", notes[0]["name"])
	assert.NotContains(t, notes[0], "post_command")
}

func TestMigrate_VersionedCache(t *testing.T) {
	out, err := Migrate(decodeDoc(t, versionedCache))
	require.NoError(t, err)

	remotes := remotesOf(t, out, "/home/alice/project")
	require.Len(t, remotes, 2)

	assert.Equal(t, "dev", remotes[0]["name"])
	assert.Equal(t, "dev_1", remotes[1]["name"], "duplicate names get a suffix")

	assert.Equal(t, true, remotes[0]["is_preferred"])
	assert.Equal(t, false, remotes[1]["is_preferred"], "only the first preferred remote survives")

	assert.Equal(t, []any{"*.log"}, remotes[0]["ignore_patterns"])
	assert.NotContains(t, remotes[1], "ignore_patterns")
	assert.Equal(t, "make", remotes[1]["post_command"])
	assert.Equal(t, "blue", remotes[0]["color"], "unknown fields are carried over")

	dirs := out["directories"].(map[string]any)
	assert.NotContains(t, dirs, "/home/alice/empty", "empty entries are dropped")
	assert.NotContains(t, out, "entries")
	assert.NotContains(t, out, "version")
}

func TestMigrate_DoesNotModifyInput(t *testing.T) {
	in := decodeDoc(t, versionedCache)
	pristine := decodeDoc(t, versionedCache)

	_, err := Migrate(in)
	require.NoError(t, err)
	assert.Equal(t, pristine, in)
}

func TestMigrate_CurrentIsUnchanged(t *testing.T) {
	in := decodeDoc(t, `{"schema_version": 2, "directories": {}}`)
	out, err := Migrate(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMigrate_FutureVersion(t *testing.T) {
	_, err := Migrate(decodeDoc(t, `{"schema_version": 3, "directories": {}}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	var verr *VersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 3, verr.Found)
	assert.Equal(t, CurrentSchemaVersion, verr.Supported)
}

func TestMigrate_MalformedLegacyEntry(t *testing.T) {
	_, err := Migrate(decodeDoc(t, `{"/home/alice/project": "devbox:src"}`))
	assert.ErrorIs(t, err, ErrCorruptStore)

	_, err = Migrate(decodeDoc(t, `{"/home/alice/project": {"remote_dir": "src"}}`))
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestMigrate_StepMustAdvanceVersion(t *testing.T) {
	broken := []Migration{{
		From:        0,
		Description: "no-op",
		Apply:       func(doc Document) (Document, error) { return doc, nil },
	}}

	_, err := migrate(Document{}, broken)
	assert.ErrorContains(t, err, "produced version 0")
}

func TestMigrations_AreContiguous(t *testing.T) {
	steps := Migrations()
	require.Len(t, steps, CurrentSchemaVersion)
	for i, step := range steps {
		assert.Equal(t, i, step.From)
		assert.NotEmpty(t, step.Description)
	}
}

func TestUniqueName(t *testing.T) {
	tests := []struct {
		base  string
		taken []string
		want  string
	}{
		{base: "devbox:src", taken: nil, want: "devbox:src"},
		{base: "devbox:src", taken: []string{"other"}, want: "devbox:src"},
		{base: "devbox:src", taken: []string{"devbox:src"}, want: "devbox:src_1"},
		{base: "devbox:src", taken: []string{"devbox:src", "devbox:src_1"}, want: "devbox:src_2"},
		{base: "devbox:src", taken: []string{"devbox:src", "devbox:src_5"}, want: "devbox:src_6"},
		{base: "devbox:src", taken: []string{"devbox:src", "devbox:src_x"}, want: "devbox:src_1"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, UniqueName(tt.base, tt.taken))
		})
	}
}

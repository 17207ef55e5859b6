package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Document is the untyped JSON shape of a registry file. Migrations work on it so
// they can read layouts that no longer have a Go type.
type Document map[string]any

// Migration upgrades a document from schema version From to From+1. Apply must not
// modify its input.
type Migration struct {
	From        int
	Description string
	Apply       func(Document) (Document, error)
}

// Schema history:
//
//	0: {"<dir>": {remote_host, remote_dir, override_paths, post_sync_command}}
//	1: {"version": "<app version>", "entries": {"<dir>": [{name, remote_host, ...}]}}
//	2: {"schema_version": 2, "directories": {"<dir>": {"remotes": [...]}}}
var migrations = []Migration{
	{From: 0, Description: "single-remote cache to versioned cache", Apply: migrateLegacyCache},
	{From: 1, Description: "versioned cache to schema_version directories", Apply: migrateVersionedCache},
}

// Migrations returns the registered migration chain in order.
func Migrations() []Migration {
	return append([]Migration(nil), migrations...)
}

// Migrate upgrades doc to CurrentSchemaVersion. Documents already at the current
// version are returned unchanged.
func Migrate(doc Document) (Document, error) {
	return migrate(doc, migrations)
}

func migrate(doc Document, steps []Migration) (Document, error) {
	version, err := DetectVersion(doc)
	if err != nil {
		return nil, err
	}
	if version > CurrentSchemaVersion {
		return nil, &VersionError{Found: version, Supported: CurrentSchemaVersion}
	}

	for version < CurrentSchemaVersion {
		step, ok := findStep(steps, version)
		if !ok {
			return nil, fmt.Errorf("no migration registered for schema version %d", version)
		}

		next, err := step.Apply(doc)
		if err != nil {
			return nil, fmt.Errorf("migrate schema version %d (%s): %w", version, step.Description, err)
		}

		nextVersion, err := DetectVersion(next)
		if err != nil {
			return nil, fmt.Errorf("migrate schema version %d: %w", version, err)
		}
		if nextVersion != version+1 {
			return nil, fmt.Errorf("migration from schema version %d produced version %d", version, nextVersion)
		}

		slog.Debug("registry migrated", "from", version, "to", nextVersion, "step", step.Description)
		doc, version = next, nextVersion
	}

	return doc, nil
}

func findStep(steps []Migration, from int) (Migration, bool) {
	for _, step := range steps {
		if step.From == from {
			return step, true
		}
	}
	return Migration{}, false
}

// DetectVersion reports the schema version of doc. Documents without any version
// marker are the original single-remote cache (version 0).
func DetectVersion(doc Document) (int, error) {
	if raw, ok := doc["schema_version"]; ok {
		v, ok := toInt(raw)
		if !ok || v < 0 {
			return 0, corrupt("schema_version %v is not a valid version", raw)
		}
		return v, nil
	}

	_, hasVersion := doc["version"].(string)
	_, hasEntries := doc["entries"]
	if hasVersion && hasEntries {
		return 1, nil
	}

	return 0, nil
}

// maxVersion caps version numbers too large for an int, so they read as a newer
// schema instead of overflowing.
const maxVersion = math.MaxInt32

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return min(n, maxVersion), true
	case int64:
		return int(min(n, maxVersion)), true
	case float64:
		if math.IsNaN(n) || n != math.Trunc(n) {
			return 0, false
		}
		switch {
		case n > maxVersion:
			return maxVersion, true
		case n < 0:
			return -1, true
		}
		return int(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(n, "-") {
			return maxVersion, true
		}
		if err != nil {
			return 0, false
		}
		if i < 0 {
			return -1, true
		}
		return int(min(i, maxVersion)), true
	}
	return 0, false
}

func migrateLegacyCache(doc Document) (Document, error) {
	known := []string{"remote_host", "remote_dir", "override_paths", "post_sync_command"}

	entries := map[string]any{}
	for dir, raw := range doc {
		legacy, ok := raw.(map[string]any)
		if !ok {
			return nil, corrupt("entry for %q is not an object", dir)
		}

		host, _ := legacy["remote_host"].(string)
		remoteDir, _ := legacy["remote_dir"].(string)
		if host == "" {
			return nil, corrupt("entry for %q has no remote_host", dir)
		}

		remote := copyUnknown(legacy, known)
		remote["name"] = host + "_" + strings.ReplaceAll(remoteDir, "/", "_")
		remote["remote_host"] = host
		remote["remote_dir"] = remoteDir
		remote["override_paths"] = listOrEmpty(legacy["override_paths"])
		remote["post_sync_command"] = legacy["post_sync_command"]
		remote["preferred"] = false
		remote["ignore_patterns"] = []any{}

		entries[dir] = []any{remote}
	}

	return Document{
		"version": "legacy",
		"entries": entries,
	}, nil
}

func migrateVersionedCache(doc Document) (Document, error) {
	known := []string{
		"name", "remote_host", "remote_dir", "override_paths",
		"post_sync_command", "preferred", "ignore_patterns",
	}

	entries, _ := doc["entries"].(map[string]any)
	directories := map[string]any{}
	for dir, raw := range entries {
		list, ok := raw.([]any)
		if !ok {
			return nil, corrupt("entries for %q are not a list", dir)
		}
		if len(list) == 0 {
			continue
		}

		taken := []string{}
		remotes := make([]any, 0, len(list))
		preferredSeen := false
		for i, item := range list {
			old, ok := item.(map[string]any)
			if !ok {
				return nil, corrupt("remote %d for %q is not an object", i, dir)
			}

			host, _ := old["remote_host"].(string)
			remoteDir, _ := old["remote_dir"].(string)
			if host == "" {
				return nil, corrupt("remote %d for %q has no remote_host", i, dir)
			}

			name, _ := old["name"].(string)
			if name == "" {
				name = host + "_" + strings.ReplaceAll(remoteDir, "/", "_")
			}
			name = UniqueName(name, taken)
			taken = append(taken, name)

			preferred, _ := old["preferred"].(bool)
			preferred = preferred && !preferredSeen
			preferredSeen = preferredSeen || preferred

			remote := copyUnknown(old, known)
			remote["name"] = name
			remote["host"] = host
			remote["remote_dir"] = remoteDir
			remote["override_paths"] = listOrEmpty(old["override_paths"])
			remote["delete_override"] = false
			remote["is_preferred"] = preferred
			if cmd, _ := old["post_sync_command"].(string); cmd != "" {
				remote["post_command"] = cmd
			}
			if patterns := listOrEmpty(old["ignore_patterns"]); len(patterns) > 0 {
				remote["ignore_patterns"] = patterns
			}
			remotes = append(remotes, remote)
		}

		// a directory with a single remote treats it as preferred, as AddRemote does
		if !preferredSeen && len(remotes) == 1 {
			remotes[0].(map[string]any)["is_preferred"] = true
		}

		directories[dir] = map[string]any{"remotes": remotes}
	}

	out := Document(copyUnknown(doc, []string{"version", "entries"}))
	out["schema_version"] = 2
	out["directories"] = directories
	return out, nil
}

func copyUnknown(in map[string]any, known []string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	for _, k := range known {
		delete(out, k)
	}
	return out
}

func listOrEmpty(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return []any{}
	}
	return append([]any{}, list...)
}

// UniqueName returns base if it is not in taken, otherwise base_N with N one above
// the highest suffix already in use.
func UniqueName(base string, taken []string) string {
	names := mapset.NewThreadUnsafeSet(taken...)
	if !names.Contains(base) {
		return base
	}

	highest := 0
	prefix := base + "_"
	for _, name := range taken {
		if name == base {
			highest = max(highest, 1)
			continue
		}
		if suffix, ok := strings.CutPrefix(name, prefix); ok {
			if n, err := strconv.Atoi(suffix); err == nil {
				highest = max(highest, n+1)
			}
		}
	}
	return fmt.Sprintf("%s_%d", base, highest)
}

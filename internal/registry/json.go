package registry

import (
	"github.com/goccy/go-json"
)

// extraFields keeps JSON members this build does not know about, so a rewrite by an
// older build does not drop data written by a newer one.
type extraFields map[string]json.RawMessage

var (
	registryFileKeys   = []string{"schema_version", "directories"}
	directoryEntryKeys = []string{"remotes"}
	remoteConfigKeys   = []string{
		"name", "host", "remote_dir", "override_paths", "ignore_patterns",
		"delete_override", "post_command", "last_synced_at", "is_preferred",
	}
)

func splitExtra(data []byte, known []string) (extraFields, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, key := range known {
		delete(raw, key)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func mergeExtra(known []byte, extra extraFields) ([]byte, error) {
	if len(extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range extra {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

func (e extraFields) clone() extraFields {
	if e == nil {
		return nil
	}
	out := make(extraFields, len(e))
	for k, v := range e {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// method-free twins used to get default struct encoding inside the custom codecs
type (
	remoteConfigFields   RemoteConfig
	directoryEntryFields DirectoryEntry
	registryFileFields   RegistryFile
)

func (r *RemoteConfig) UnmarshalJSON(data []byte) error {
	var fields remoteConfigFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := splitExtra(data, remoteConfigKeys)
	if err != nil {
		return err
	}
	*r = RemoteConfig(fields)
	r.extra = extra
	return nil
}

func (r RemoteConfig) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(remoteConfigFields(r))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, r.extra)
}

func (d *DirectoryEntry) UnmarshalJSON(data []byte) error {
	var fields directoryEntryFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := splitExtra(data, directoryEntryKeys)
	if err != nil {
		return err
	}
	*d = DirectoryEntry(fields)
	d.extra = extra
	return nil
}

func (d DirectoryEntry) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(directoryEntryFields(d))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, d.extra)
}

func (f *RegistryFile) UnmarshalJSON(data []byte) error {
	var fields registryFileFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := splitExtra(data, registryFileKeys)
	if err != nil {
		return err
	}
	*f = RegistryFile(fields)
	f.extra = extra

	if f.Directories == nil {
		f.Directories = map[string]*DirectoryEntry{}
	}
	for dir, entry := range f.Directories {
		if entry != nil {
			entry.Path = dir
		}
	}
	return nil
}

func (f RegistryFile) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(registryFileFields(f))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, f.extra)
}

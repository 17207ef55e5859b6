package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/openmined/syncr/internal/registry"
	"gopkg.in/yaml.v3"
)

type remoteView struct {
	Name           string     `json:"name" yaml:"name"`
	Host           string     `json:"host" yaml:"host"`
	RemoteDir      string     `json:"remote_dir" yaml:"remote_dir"`
	Preferred      bool       `json:"preferred" yaml:"preferred"`
	OverridePaths  []string   `json:"override_paths,omitempty" yaml:"override_paths,omitempty"`
	IgnorePatterns []string   `json:"ignore_patterns,omitempty" yaml:"ignore_patterns,omitempty"`
	DeleteOverride bool       `json:"delete_override" yaml:"delete_override"`
	PostCommand    string     `json:"post_command,omitempty" yaml:"post_command,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty"`
}

type dirView struct {
	Directory string       `json:"directory" yaml:"directory"`
	Remotes   []remoteView `json:"remotes" yaml:"remotes"`
}

func newDirView(dir string, remotes []registry.RemoteConfig) dirView {
	view := dirView{Directory: dir, Remotes: make([]remoteView, 0, len(remotes))}
	for _, r := range remotes {
		view.Remotes = append(view.Remotes, remoteView{
			Name:           r.Name,
			Host:           r.Host,
			RemoteDir:      r.RemoteDir,
			Preferred:      r.IsPreferred,
			OverridePaths:  r.OverridePaths,
			IgnorePatterns: r.IgnorePatterns,
			DeleteOverride: r.DeleteOverride,
			PostCommand:    r.PostCommand,
			LastSyncedAt:   r.LastSyncedAt,
		})
	}
	return view
}

func renderRemotes(w io.Writer, dir string, remotes []registry.RemoteConfig, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		return renderTable(w, dir, remotes)
	case "json":
		data, err := json.MarshalIndent(newDirView(dir, remotes), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newDirView(dir, remotes)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

func renderTable(w io.Writer, dir string, remotes []registry.RemoteConfig) error {
	if len(remotes) == 0 {
		_, err := fmt.Fprintln(w, "No remotes configured for "+dir)
		return err
	}

	rows := make([][]string, 0, len(remotes))
	for _, r := range remotes {
		name := r.Name
		if r.IsPreferred {
			name += " (preferred)"
		}
		rows = append(rows, []string{name, r.Target(), strings.Join(r.OverridePaths, ", "), lastSynced(r.LastSyncedAt)})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(gray).
		Headers("NAME", "TARGET", "OVERRIDES", "LAST SYNCED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	_, err := fmt.Fprintf(w, "Remotes for %s\n%s\n", dir, t.Render())
	return err
}

func lastSynced(at *time.Time) string {
	if at == nil {
		return "never"
	}
	return humanize.Time(*at)
}

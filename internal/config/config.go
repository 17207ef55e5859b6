// Package config holds the tool settings of syncr: where the registry lives and how
// the external tools are invoked.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/openmined/syncr/internal/ignore"
	"github.com/openmined/syncr/internal/utils"
)

const (
	AppDirName       = "syncr"
	RegistryFileName = "registry.json"
	SettingsFileName = "settings"
	EnvPrefix        = "SYNCR"
)

var (
	home, _             = os.UserHomeDir()
	DefaultConfigDir    = filepath.Join(userConfigDir(), AppDirName)
	DefaultRegistryPath = filepath.Join(DefaultConfigDir, RegistryFileName)
	DefaultLogFilePath  = filepath.Join(DefaultConfigDir, "logs", "syncr.log")
	DefaultRsyncPath    = "rsync"
	DefaultSSHPath      = "ssh"
	DefaultShell        = "sh"
	DefaultRsyncFlags   = []string{"-azP"}
)

type Config struct {
	// Path is the settings file in use, empty when running on defaults.
	Path          string   `json:"-" yaml:"-" mapstructure:"-"`
	RegistryPath  string   `json:"registry_path" yaml:"registry_path" mapstructure:"registry_path"`
	RsyncPath     string   `json:"rsync_path" yaml:"rsync_path" mapstructure:"rsync_path"`
	SSHPath       string   `json:"ssh_path" yaml:"ssh_path" mapstructure:"ssh_path"`
	Shell         string   `json:"shell" yaml:"shell" mapstructure:"shell"`
	RsyncFlags    []string `json:"rsync_flags" yaml:"rsync_flags" mapstructure:"rsync_flags"`
	DefaultIgnore []string `json:"default_ignore" yaml:"default_ignore" mapstructure:"default_ignore"`
	LogFile       string   `json:"log_file" yaml:"log_file" mapstructure:"log_file"`
	Verbose       bool     `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
}

// Validate fills in defaults and resolves every path to an absolute one.
func (c *Config) Validate() error {
	var err error

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("settings path: %w", err)
		}
	}

	if c.RegistryPath == "" {
		c.RegistryPath = DefaultRegistryPath
	}
	if c.RegistryPath, err = utils.ResolvePath(c.RegistryPath); err != nil {
		return fmt.Errorf("registry path: %w", err)
	}

	if c.LogFile == "" {
		c.LogFile = DefaultLogFilePath
	}
	if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
		return fmt.Errorf("log file: %w", err)
	}

	if c.RsyncPath == "" {
		c.RsyncPath = DefaultRsyncPath
	}
	if c.SSHPath == "" {
		c.SSHPath = DefaultSSHPath
	}
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if len(c.RsyncFlags) == 0 {
		c.RsyncFlags = slices.Clone(DefaultRsyncFlags)
	}

	for _, p := range c.DefaultIgnore {
		if err := ignore.ValidatePattern(p); err != nil {
			return fmt.Errorf("default_ignore: %w", err)
		}
	}

	return nil
}

// SearchDirs are the directories searched for a settings file, in order.
func SearchDirs() []string {
	return []string{
		filepath.Join(home, "."+AppDirName),
		DefaultConfigDir,
	}
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return filepath.Join(home, ".config")
}

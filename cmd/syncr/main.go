package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/syncr/internal/config"
	"github.com/openmined/syncr/internal/selector"
	"github.com/openmined/syncr/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settings is loaded once per invocation by the root command's pre-run hook.
var settings *config.Config

var rootCmd = &cobra.Command{
	Use:   "syncr [HOST REMOTE_DIR]",
	Short: "Mirror the current directory to a remote host over rsync",
	Long: `syncr mirrors the current directory to a remote directory with rsync and
remembers the remotes configured for each directory.

With HOST and REMOTE_DIR it syncs to that target, adding it as a remote on first
use. Without them it syncs to the preferred remote of the directory, or asks.`,
	Version:       version.Detailed(),
	Args:          cobra.MatchAll(cobra.MaximumNArgs(2), targetArgs),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		setupLogging(cfg)
		settings = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSync(cmd, args, settings)
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("name", "n", "", "Name of the remote to use or create")
	rootCmd.Flags().StringArrayP("override-path", "o", nil, "Path synced even if ignored (repeatable)")
	rootCmd.Flags().StringP("post-command", "p", "", "Command run in this directory after a successful sync")
	rootCmd.Flags().BoolP("shell", "s", false, "Open a shell in the remote directory after syncing")
	rootCmd.Flags().BoolP("delete-override", "d", false, "Delete remote files missing locally for override paths")
	rootCmd.Flags().BoolP("list", "l", false, "List the remotes of this directory")
	rootCmd.Flags().StringP("remove", "r", "", "Remove the named remote of this directory")
	rootCmd.Flags().BoolP("preferred", "P", false, "Make the selected remote the preferred one")
	rootCmd.Flags().StringArrayP("ignore", "i", nil, "Extra ignore pattern for this remote (repeatable)")
	rootCmd.Flags().Bool("dry-run", false, "Show the transfers without running them")
	rootCmd.Flags().String("format", "table", "Output format for --list: table, json or yaml")

	rootCmd.PersistentFlags().StringP("config", "c", "", "Settings file (default: settings.{json,yaml,toml} in ~/.syncr or "+config.DefaultConfigDir+")")
	rootCmd.PersistentFlags().String("registry", "", "Registry file (default "+config.DefaultRegistryPath+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

func targetArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return selector.ErrIncompleteTarget
	}
	return nil
}

func main() {
	slog.SetDefault(slog.New(consoleHandler()))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeLogFile()

	if err != nil {
		fmt.Fprintln(os.Stderr, red.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	// settings path
	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else {
		for _, dir := range config.SearchDirs() {
			v.AddConfigPath(dir)
		}
		v.SetConfigName(config.SettingsFileName)
	}

	// Read settings file
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("settings read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	// Bind flags to viper
	for key, flag := range map[string]string{
		"registry_path": "registry",
		"verbose":       "verbose",
	} {
		if f := cmd.Flag(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	// Set up environment variables
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	cfg := &config.Config{
		RegistryPath:  v.GetString("registry_path"),
		RsyncPath:     v.GetString("rsync_path"),
		SSHPath:       v.GetString("ssh_path"),
		Shell:         v.GetString("shell"),
		RsyncFlags:    v.GetStringSlice("rsync_flags"),
		DefaultIgnore: v.GetStringSlice("default_ignore"),
		LogFile:       v.GetString("log_file"),
		Verbose:       v.GetBool("verbose"),
	}
	if used := v.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			cfg.Path = used
		}
	}

	return cfg, nil
}

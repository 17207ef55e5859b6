package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigPathCmd())
}

func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config-path",
		Short: "Print the resolved registry file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			all, _ := cmd.Flags().GetBool("all")
			if !all {
				_, err = fmt.Fprintln(out, cfg.RegistryPath)
				return err
			}

			settingsPath := cfg.Path
			if settingsPath == "" {
				settingsPath = "(none)"
			}
			_, err = fmt.Fprintf(out, "registry: %s\nsettings: %s\nlog:      %s\n", cfg.RegistryPath, settingsPath, cfg.LogFile)
			return err
		},
	}
	cmd.Flags().Bool("all", false, "Also print the settings and log file paths")
	return cmd
}

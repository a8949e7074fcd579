package main

import (
	"github.com/HerbHall/stbemu/internal/version"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "stbemu",
	Short: "Set-top-box emulator plugin host",
	Long: `stbemu discovers plugins, resolves their dependencies and initializes
them in order, then manages the emulated set-top-box profiles built on the
STB API plugins: creating them, switching between them and removing them.`,
	Version:       version.Short(),
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: stbemu.yaml in ., ./configs, /etc/stbemu)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

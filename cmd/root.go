package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mcpgate application.
var rootCmd = &cobra.Command{
	Use:   "mcpgate",
	Short: "OAuth consent gateway for MCP integrations",
	Long: `mcpgate sits between MCP clients and an upstream identity provider.
It renders a consent dialog where the user picks which skills a client may
use, carries the authorization request across the redirect dance inside a
stateless signed token, and completes the downstream grant once the
upstream provider has authenticated the user.`,
	// SilenceUsage prevents Cobra from printing the usage message on
	// errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

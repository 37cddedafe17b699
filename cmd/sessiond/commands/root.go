// Package commands implements sessiond's cobra command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath is the path to the YAML configuration file, shared by every
// subcommand that needs to load configuration.
var configPath string

// rootCmd is the top-level cobra command for sessiond.
var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "Mesh overlay session manager daemon",
	Long:  "sessiond maintains encrypted overlay sessions between mesh peers, bridging the switch and inside interfaces and talking to the pathfinder over its event bus.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to sessiond's YAML configuration file (defaults embedded if omitted)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshcore/sessiond/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print sessiond build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.Full("sessiond"))
		},
	}
}

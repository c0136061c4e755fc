package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmnoxx/nearcore/version"
)

// VersionCmd prints the version of the sync daemon.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s (protocol %d)\n", version.SyncCoreSemVer, version.ProtocolVersion)
	},
}

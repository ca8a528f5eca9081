package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wentf9/xops-mcp/cmd/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("xops-mcp %s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

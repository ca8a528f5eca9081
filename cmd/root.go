package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wentf9/xops-mcp/pkg/logger"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd is the base command; subcommands share the registry and logging
// flags it declares.
var rootCmd = &cobra.Command{
	Use:   "xops-mcp",
	Short: "MCP server for remote operations over a registered VM inventory",
	Long: `xops-mcp exposes a registered VM inventory to MCP clients: listing and
probing machines, inspecting their distro, running commands and scripts
over SSH, and searching the recorded execution history.

The registry is a YAML document loaded from --config, the XOPS_CONFIG
environment variable or ./xops.yaml. Declaring users in the registry
enables per-key permissions; without users every caller sees every VM.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Config{Format: logFormat, Level: logLevel})
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "registry path or URL (default $XOPS_CONFIG, then ./xops.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log format: json, console or auto")
}

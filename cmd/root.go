// Package cmd wires miniclaw's command-line surface: the long-running
// "gateway" daemon, a one-shot "agent" message, workspace "onboard"-ing,
// "memory" inspection, and "version".
//
// Persistent --config/--verbose flags, a rootCmd whose bare Run defaults
// to the gateway, and one cobra.Command-returning function per subcommand.
// No pairing/doctor/models/channels/sessions/migrate subcommands — those
// don't apply to a single-agent, single-tenant daemon.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/miniclaw/internal/config"
	"github.com/nextlevelbuilder/miniclaw/internal/gateway"
	"github.com/nextlevelbuilder/miniclaw/internal/obs"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile  string
	verbose  bool
	jsonLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "miniclaw",
	Short: "miniclaw — a personal AI agent daemon",
	Long:  "miniclaw runs one agent against one workspace: Telegram/Discord channels in, an LLM-backed tool-using loop, memory and session files on disk.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.miniclaw/config.json or $MINICLAW_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs instead of text")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(memoryCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("miniclaw %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("MINICLAW_CONFIG"); v != "" {
		return v
	}
	return config.ExpandHome("~/.miniclaw/config.json")
}

func loadConfig(modelOverride, workspaceOverride string) *config.Config {
	obs.Setup(verbose, jsonLogs)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyFlagOverrides(modelOverride, workspaceOverride)
	return cfg
}

func newGateway(cfg *config.Config) *gateway.Gateway {
	gateway.Version = Version
	gw, err := gateway.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting gateway: %v\n", err)
		os.Exit(1)
	}
	return gw
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

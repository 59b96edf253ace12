package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func gatewayCmd() *cobra.Command {
	var (
		model     string
		workspace string
		pidFile   string
	)

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the long-lived agent daemon (channels, cron, the agent loop)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway2(model, workspace, pidFile)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "override the configured model")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "override the configured workspace path")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "write the process id to this path while running")

	return cmd
}

// runGateway backs the root command's bare invocation (no flags parsed
// beyond the persistent ones).
func runGateway() {
	runGateway2("", "", "")
}

func runGateway2(model, workspace, pidFile string) {
	cfg := loadConfig(model, workspace)
	gw := newGateway(cfg)
	os.Exit(gw.Run(pidFile))
}

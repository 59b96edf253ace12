package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/miniclaw/internal/bus"
)

func agentCmd() *cobra.Command {
	var (
		message   string
		model     string
		workspace string
		chatID    string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Send one message through the agent loop and print the reply",
		Long: `Runs the full dependency-ordered construction a running gateway uses
(Session Store, Tool Registry, Context Builder, Agent Loop) against the
same on-disk workspace, but sends exactly one message and exits — no
channel, no cron, no Lifecycle Coordinator.

Examples:
  miniclaw agent -m "what's on my calendar today?"
  miniclaw agent -m "summarize SOUL.md" -M gpt-4o`,
		Run: func(cmd *cobra.Command, args []string) {
			runAgentOnce(message, model, workspace, chatID)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "the message to send (required)")
	cmd.Flags().StringVarP(&model, "model", "M", "", "override the configured model")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "override the configured workspace path")
	cmd.Flags().StringVar(&chatID, "chat-id", "cli", "session key suffix, for continuing a particular CLI conversation")
	cmd.MarkFlagRequired("message")

	return cmd
}

func runAgentOnce(message, model, workspace, chatID string) {
	if message == "" {
		fmt.Fprintln(os.Stderr, "agent: -m/--message is required")
		os.Exit(1)
	}

	cfg := loadConfig(model, workspace)
	gw := newGateway(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	reply, err := gw.ProcessOne(ctx, bus.InboundMessage{
		Channel:   "cli",
		ChatID:    chatID,
		UserID:    0,
		Content:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(reply)
}

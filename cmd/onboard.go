package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/miniclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/miniclaw/internal/config"
)

func onboardCmd() *cobra.Command {
	var auto bool

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create a config file and seed the workspace",
		Long: `Writes ~/.miniclaw/config.json (or --config) if absent and seeds the
workspace's template files (SOUL.md, AGENTS.md, USER.md, TOOLS.md,
HEARTBEAT.md). Prompts for an API key interactively unless --auto or
MINICLAW_API_KEY is already set in the environment.`,
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard(auto)
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "non-interactive: read settings from the environment only")

	return cmd
}

func runOnboard(auto bool) {
	path := resolveConfigPath()

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("config already exists at %s, leaving it untouched\n", path)
	} else {
		cfg := config.Default()

		apiKey := os.Getenv("MINICLAW_API_KEY")
		if apiKey == "" && !auto {
			apiKey = promptLine("OpenAI-compatible API key: ")
		}
		if apiKey == "" {
			fmt.Fprintln(os.Stderr, "onboard: no API key provided (set MINICLAW_API_KEY or answer the prompt)")
			os.Exit(1)
		}
		cfg.APIKey = apiKey

		if !auto {
			if model := promptLine(fmt.Sprintf("Model [%s]: ", cfg.Model)); model != "" {
				cfg.Model = model
			}
			if ws := promptLine(fmt.Sprintf("Workspace path [%s]: ", cfg.Workspace)); ws != "" {
				cfg.Workspace = ws
			}
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !os.IsExist(err) {
			fmt.Fprintf(os.Stderr, "onboard: creating config directory: %v\n", err)
			os.Exit(1)
		}
		if err := config.Save(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "onboard: saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		// Validation may still fail here (e.g. auto mode with no env key
		// and a pre-existing, incomplete config) — report and let the
		// workspace seed anyway, since templates are independent of it.
		fmt.Fprintf(os.Stderr, "onboard: config is incomplete: %v\n", err)
	}

	workspace := config.Default().Workspace
	if cfg != nil {
		workspace = cfg.WorkspacePath()
	}
	created, err := bootstrap.EnsureWorkspaceFiles(config.ExpandHome(workspace))
	if err != nil {
		fmt.Fprintf(os.Stderr, "onboard: seeding workspace: %v\n", err)
		os.Exit(1)
	}
	if len(created) == 0 {
		fmt.Println("workspace already seeded, nothing new to create")
		return
	}
	fmt.Printf("seeded workspace at %s: %s\n", workspace, strings.Join(created, ", "))
}

func promptLine(prompt string) string {
	fmt.Print(prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

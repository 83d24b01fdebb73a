// Package main is the CLI entry point for the valuablehelper agent runtime.
//
// The runtime connects chat gateways (Telegram, WebSocket) to LLM providers
// (Anthropic, OpenAI, Bedrock) and drives a persistent task plan with
// autonomous agent runs.
//
// Start the server:
//
//	valuablehelper serve --config helper.yaml
//
// Inspect the task plan:
//
//	valuablehelper tasks list
//	valuablehelper tasks show <id>
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "valuablehelper",
		Short: "Agent runtime with a persistent task plan and chat gateways",
		Long: `valuablehelper runs LLM agents against a persistent task plan.

Chat gateways: Telegram, WebSocket
LLM providers: Anthropic, OpenAI, AWS Bedrock`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildTasksCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

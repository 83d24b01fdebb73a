package main

// commands.go contains the cobra command definitions and their flags.

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the runtime.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent runtime",
		Long: `Start the runtime with every configured component.

The server will:
1. Load configuration from the specified file (defaults apply without one)
2. Initialize LLM providers with available credentials
3. Open the persistent task store and start the plan director
4. Start the scheduler and any enabled chat gateways
5. Serve health checks and metrics over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with defaults
  valuablehelper serve

  # Start with custom config
  valuablehelper serve --config /etc/valuablehelper/production.yaml

  # Start with debug logging
  valuablehelper serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

// buildVersionCmd creates the "version" command printing build information.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("valuablehelper %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// buildTasksCmd creates the "tasks" command group for plan inspection.
func buildTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and edit the task plan",
	}
	cmd.PersistentFlags().StringP("file", "f", "tasks.json", "Path to the task store file")
	cmd.AddCommand(buildTasksListCmd(), buildTasksAddCmd(), buildTasksShowCmd())
	return cmd
}

func buildTasksListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			return runTasksList(cmd.OutOrStdout(), file, status)
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (todo, in_progress, done, ...)")
	return cmd
}

func buildTasksAddCmd() *cobra.Command {
	var (
		priority    string
		description string
		parent      string
		deps        []string
	)
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task to the plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			return runTasksAdd(cmd.OutOrStdout(), file, taskAddOptions{
				title:        args[0],
				priority:     priority,
				description:  description,
				parentID:     parent,
				dependencies: deps,
			})
		},
	}
	cmd.Flags().StringVarP(&priority, "priority", "p", "medium", "Priority (critical, high, medium, low, scheduled)")
	cmd.Flags().StringVar(&description, "description", "", "Longer task description")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent task id")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "Task ids this task depends on")
	return cmd
}

func buildTasksShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task with its subtasks and dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			return runTasksShow(cmd.OutOrStdout(), file, args[0])
		},
	}
}

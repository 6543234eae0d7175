package cli

import (
	"net/url"

	"github.com/spf13/cobra"

	"github.com/mcoot/provisioner/internal/api/response"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and stop server tasks",
	}

	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksGetCmd())
	cmd.AddCommand(newTasksStopCmd())
	cmd.AddCommand(newTasksLogCmd())

	return cmd
}

func taskPath(id string) string {
	return "/api/v1/tasks/" + url.PathEscape(id)
}

func newTasksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.TaskList
			if err := client.Get(cmd.Context(), "/api/v1/tasks", &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newTasksGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Task
			if err := client.Get(cmd.Context(), taskPath(args[0]), &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newTasksStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <task-id>",
		Short: "Stop a running task",
		Long:  `Ask a running task to finish. In-flight registrations complete; nothing new starts.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Task
			if err := client.Post(cmd.Context(), taskPath(args[0])+"/stop", nil, &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newTasksLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <task-id>",
		Short: "Print a task's event log so far",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.EventList
			if err := client.Get(cmd.Context(), taskPath(args[0])+"/events?format=json", &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

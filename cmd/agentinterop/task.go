package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	agentinterop "github.com/machinefabric/agentinterop-go"
	"github.com/machinefabric/agentinterop-go/protocol"
)

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Run tasks on an agent",
	}
	cmd.AddCommand(newTaskRunCmd(a))
	return cmd
}

func newTaskRunCmd(a *app) *cobra.Command {
	var agentID, title, prompt string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a task, subscribe to it and stream its output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			card, err := a.registry.Lookup(agentID)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c, err := a.dial(ctx, card)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			task, err := c.CreateTask(ctx, protocol.TasksCreate{AgentID: agentID, Title: title, Prompt: prompt})
			if err != nil {
				return err
			}
			a.logger.Debug("task created", "task_id", task.ID)

			out := cmd.OutOrStdout()
			var onEvent func(protocol.Event)
			if !asJSON {
				onEvent = func(ev protocol.Event) {
					if delta, ok := ev.(protocol.MessageDelta); ok {
						io.WriteString(out, delta.Delta)
					}
				}
			}
			run, err := c.Subscribe(ctx, task.ID, onEvent)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(out, map[string]any{"task": run.Task, "text": run.Text})
			}
			if _, err := io.WriteString(out, "\n"); err != nil {
				return err
			}
			if run.Cancelled {
				return fmt.Errorf("task %s was cancelled", run.Task.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", agentinterop.MockAgentID, "agent id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&prompt, "prompt", "", "task prompt")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the final task record as JSON")
	cmd.MarkFlagRequired("prompt")
	return cmd
}

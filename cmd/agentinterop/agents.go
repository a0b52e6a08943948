package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	agentinterop "github.com/machinefabric/agentinterop-go"
)

const chatSkillDescription = "Chat-style interaction over session/start + session/send"

type agentSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type skillSummary struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type agentDescription struct {
	agentSummary
	Skills []skillSummary `json:"skills"`
}

func newAgentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List, describe and invoke agents",
	}
	cmd.AddCommand(newAgentsListCmd(a))
	cmd.AddCommand(newAgentsDescribeCmd(a))
	cmd.AddCommand(newAgentsInvokeCmd(a))
	cmd.AddCommand(newSessionCmd(a))
	cmd.AddCommand(newTaskCmd(a))
	return cmd
}

// jsonFlag accepts --json for compatibility; output is always JSON.
func jsonFlag(cmd *cobra.Command) {
	var asJSON bool
	cmd.Flags().BoolVar(&asJSON, "json", true, "print JSON (always on)")
}

func newAgentsListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the agent catalog as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agents := []agentSummary{}
			for _, card := range a.registry.List() {
				agents = append(agents, summarize(card))
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"agents": agents})
		},
	}
	jsonFlag(cmd)
	return cmd
}

func newAgentsDescribeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <agentId>",
		Short: "Print one agent and its skills as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := a.registry.Lookup(args[0])
			if err != nil {
				return err
			}
			desc := agentDescription{agentSummary: summarize(card), Skills: []skillSummary{}}
			for _, skill := range card.Skills {
				desc.Skills = append(desc.Skills, skillSummary{ID: skill, Description: skillDescription(skill)})
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"agent": desc})
		},
	}
	jsonFlag(cmd)
	return cmd
}

func newAgentsInvokeCmd(a *app) *cobra.Command {
	var agentID, skill, prompt string
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Send one prompt to a fresh agent and stream the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			card, err := a.registry.Resolve(agentID, skill)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c, err := a.dial(ctx, card)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			sessionID, err := c.StartSession(ctx, agentinterop.NewID("invoke"))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			turn, err := c.Send(ctx, sessionID, prompt, func(delta string) { io.WriteString(out, delta) })
			if err != nil {
				return err
			}
			return finishReply(out, turn.Deltas, turn.Text)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", agentinterop.MockAgentID, "agent id")
	cmd.Flags().StringVar(&skill, "skill", "", "skill to use")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text")
	cmd.MarkFlagRequired("skill")
	cmd.MarkFlagRequired("prompt")
	return cmd
}

// finishReply prints the completion when nothing was streamed and ends the
// output with a newline.
func finishReply(w io.Writer, deltas int, text string) error {
	if deltas == 0 {
		if _, err := io.WriteString(w, text); err != nil {
			return err
		}
	}
	if !strings.HasSuffix(text, "\n") {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}

func summarize(card agentinterop.AgentCard) agentSummary {
	return agentSummary{ID: card.ID, Name: card.Name, Description: card.Description}
}

func skillDescription(skill string) string {
	if skill == agentinterop.SkillChat {
		return chatSkillDescription
	}
	return ""
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	agentinterop "github.com/machinefabric/agentinterop-go"
	"github.com/machinefabric/agentinterop-go/chatstore"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions that survive across invocations",
	}
	cmd.AddCommand(newSessionOpenCmd(a))
	cmd.AddCommand(newSessionSendCmd(a))
	cmd.AddCommand(newSessionCloseCmd(a))
	return cmd
}

func (a *app) sessions() *chatstore.Store {
	return a.store(chatstore.SessionsDir(a.cwd))
}

func newSessionOpenCmd(a *app) *cobra.Command {
	var agentID, skill string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Create a session record and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.registry.Resolve(agentID, skill); err != nil {
				return err
			}
			sessionID := agentinterop.NewID("session")
			err := a.sessions().Write(chatstore.Chat{
				ChatID:     sessionID,
				ProviderID: agentID,
				Skill:      skill,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sessionID)
			return err
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", agentinterop.MockAgentID, "agent id")
	cmd.Flags().StringVar(&skill, "skill", agentinterop.SkillChat, "skill to use")
	return cmd
}

func newSessionSendCmd(a *app) *cobra.Command {
	var sessionID, prompt string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a prompt to a session, replaying its earlier turns first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := a.sessions()
			record, err := store.Read(sessionID)
			if errors.Is(err, chatstore.ErrNotFound) {
				return fmt.Errorf("session not found: %s", sessionID)
			}
			if err != nil {
				return err
			}
			if record.ProviderID == "" {
				record.ProviderID = agentinterop.MockAgentID
			}
			if record.Skill == "" {
				record.Skill = agentinterop.SkillChat
			}

			card, err := a.registry.Resolve(record.ProviderID, record.Skill)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c, err := a.dial(ctx, card)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			if _, err := c.StartSession(ctx, sessionID); err != nil {
				return err
			}
			if err := c.Replay(ctx, sessionID, record.History); err != nil {
				return fmt.Errorf("replay session %s: %w", sessionID, err)
			}

			out := cmd.OutOrStdout()
			turn, err := c.Send(ctx, sessionID, prompt, func(delta string) { io.WriteString(out, delta) })
			if err != nil {
				return err
			}
			if turn.Deltas == 0 {
				io.WriteString(out, turn.Text)
			}
			if _, err := io.WriteString(out, "\n"); err != nil {
				return err
			}

			record.History = turn.History
			return store.Write(record)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("prompt")
	return cmd
}

func newSessionCloseCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Delete a session record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.sessions().Delete(sessionID); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.MarkFlagRequired("session")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/machinefabric/agentinterop-go/agent"
)

// newMockAgentCmd lets the built-in catalog launch the reference agent from
// this same executable.
func newMockAgentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:                "mock-agent",
		Short:              "Run the built-in mock agent on stdin/stdout",
		Hidden:             true,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := agent.ServeStdio(ctx, args, a.logger); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

// Command mock-agent is the deterministic reference agent. It speaks the
// framed protocol on stdin/stdout and logs to stderr.
//
//	mock-agent [--chunks=N] [--streaming=on|off] [--emitToolCalls]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/machinefabric/agentinterop-go/agent"
	"github.com/machinefabric/agentinterop-go/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.ServeStdio(ctx, os.Args[1:], logger.New(os.Stderr)); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "mock-agent: %v\n", err)
		os.Exit(1)
	}
}

// Command agentinterop drives local stdio agents: it lists and describes the
// built-in catalog, runs one-shot invocations and tasks, keeps resumable
// sessions on disk, and offers an interactive chat.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	agentinterop "github.com/machinefabric/agentinterop-go"
	"github.com/machinefabric/agentinterop-go/chatstore"
	"github.com/machinefabric/agentinterop-go/client"
	"github.com/machinefabric/agentinterop-go/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	l := logger.New(os.Stderr)

	registry, err := agentinterop.BuiltinRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentinterop: %v\n", err)
		return 1
	}
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentinterop: %v\n", err)
		return 1
	}

	a := &app{
		registry: registry,
		cwd:      cwd,
		logger:   l,
		stdin:    os.Stdin,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
		},
	}

	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// app carries what the commands share. Tests swap the registry, cwd and
// terminal probe.
type app struct {
	registry     *agentinterop.Registry
	cwd          string
	logger       *slog.Logger
	stdin        io.Reader
	isTerminal   func() bool
	replyTimeout time.Duration
	storeFormat  chatstore.Format
}

// store opens a chat store in dir using the --store-format encoding.
func (a *app) store(dir string) *chatstore.Store {
	return chatstore.New(dir, chatstore.WithFormat(a.storeFormat))
}

func (a *app) dial(ctx context.Context, card agentinterop.AgentCard) (*client.Client, error) {
	return client.Dial(ctx, card,
		client.WithLogger(a.logger),
		client.WithReplyTimeout(a.replyTimeout),
		client.WithStderr(os.Stderr),
	)
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentinterop",
		Short:         "Drive local stdio agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().DurationVar(&a.replyTimeout, "reply-timeout", client.DefaultReplyTimeout, "bound on each wait for an agent message")
	cmd.PersistentFlags().Var(&a.storeFormat, "store-format", "encoding of saved chats and sessions: json or cbor")

	cmd.AddCommand(newAgentsCmd(a))
	cmd.AddCommand(newChatCmd(a))
	cmd.AddCommand(newMockAgentCmd(a))
	return cmd
}

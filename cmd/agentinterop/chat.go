package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	agentinterop "github.com/machinefabric/agentinterop-go"
	"github.com/machinefabric/agentinterop-go/chatstore"
	"github.com/machinefabric/agentinterop-go/client"
	"github.com/machinefabric/agentinterop-go/protocol"
)

// ErrNotATerminal is returned by chat when stdin or stdout is not a TTY.
var ErrNotATerminal = errors.New("chat requires an interactive terminal")

const chatHelp = `
Commands:
  /help               Show this help
  /exit               Quit
  /list               List chats
  /new                Create a new chat
  /chat <id>          Switch to chat by id
  /delete <id>        Delete a chat (removes its local file)
  /clear              Clear the screen
`

func newChatCmd(a *app) *cobra.Command {
	var agentID, chatID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with an agent, saved under .cache/agnet/chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.isTerminal() {
				return ErrNotATerminal
			}
			if _, err := a.registry.Resolve(agentID, agentinterop.SkillChat); err != nil {
				return err
			}

			r := &repl{
				app:     a,
				store:   a.store(chatstore.ChatsDir(a.cwd)),
				agentID: agentID,
				in:      bufio.NewScanner(a.stdin),
				out:     cmd.OutOrStdout(),
			}
			ctx := cmd.Context()
			defer r.disconnect(ctx)
			return r.run(ctx, chatID)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", agentinterop.MockAgentID, "agent for new chats")
	cmd.Flags().StringVar(&chatID, "chat", "", "resume an existing chat")
	return cmd
}

// repl keeps one live agent for the current chat. Switching chats drops it;
// the next message dials a fresh agent and replays the stored history.
type repl struct {
	app     *app
	store   *chatstore.Store
	agentID string
	in      *bufio.Scanner
	out     io.Writer

	current chatstore.Chat
	conn    *client.Client
}

func (r *repl) run(ctx context.Context, chatID string) error {
	if chatID != "" {
		chat, err := r.store.Read(chatID)
		if err != nil {
			return err
		}
		r.current = chat
	} else if err := r.newChat(); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "\n--- chat %s (agent: %s) ---\n", r.current.ChatID, r.current.ProviderID)
	r.printHistory()
	fmt.Fprint(r.out, chatHelp)

	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintf(r.out, "[error] %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		if err := r.send(ctx, line); err != nil {
			fmt.Fprintf(r.out, "\n[error] %v\n", err)
		}
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprint(r.out, chatHelp)
	case "/clear":
		fmt.Fprint(r.out, "\x1bc")
	case "/list":
		return false, r.list()
	case "/new":
		r.disconnect(ctx)
		if err := r.newChat(); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Created chat %s (agent: %s)\n", r.current.ChatID, r.current.ProviderID)
	case "/chat":
		if arg == "" {
			fmt.Fprintln(r.out, "Usage: /chat <id>")
			return false, nil
		}
		chat, err := r.store.Read(arg)
		if err != nil {
			return false, err
		}
		r.disconnect(ctx)
		r.current = chat
		fmt.Fprintf(r.out, "Switched to chat %s (agent: %s)\n", chat.ChatID, chat.ProviderID)
		r.printHistory()
	case "/delete":
		if arg == "" {
			fmt.Fprintln(r.out, "Usage: /delete <id>")
			return false, nil
		}
		if err := r.store.Delete(arg); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Deleted chat %s\n", arg)
		if arg == r.current.ChatID {
			r.disconnect(ctx)
			if err := r.newChat(); err != nil {
				return false, err
			}
			fmt.Fprintf(r.out, "Created chat %s (agent: %s)\n", r.current.ChatID, r.current.ProviderID)
		}
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (try /help)\n", name)
	}
	return false, nil
}

func (r *repl) newChat() error {
	chat := chatstore.Chat{ChatID: agentinterop.NewID("chat"), ProviderID: r.agentID}
	if err := r.store.Write(chat); err != nil {
		return err
	}
	r.current = chat
	return nil
}

func (r *repl) send(ctx context.Context, content string) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	fmt.Fprint(r.out, "agent: ")
	turn, err := r.conn.Send(ctx, r.current.ChatID, content, func(delta string) {
		io.WriteString(r.out, delta)
	})
	if err != nil {
		r.disconnect(ctx)
		return err
	}
	if turn.Deltas == 0 {
		io.WriteString(r.out, turn.Text)
	}
	fmt.Fprintln(r.out)

	r.current.History = turn.History
	return r.store.Write(r.current)
}

// connect dials the current chat's agent and rebuilds the session from the
// stored history.
func (r *repl) connect(ctx context.Context) error {
	if r.conn != nil {
		return nil
	}
	card, err := r.app.registry.Resolve(r.current.ProviderID, agentinterop.SkillChat)
	if err != nil {
		return err
	}
	c, err := r.app.dial(ctx, card)
	if err != nil {
		return err
	}
	if _, err := c.StartSession(ctx, r.current.ChatID); err != nil {
		c.Close(ctx)
		return err
	}
	if err := c.Replay(ctx, r.current.ChatID, r.current.History); err != nil {
		c.Close(ctx)
		return fmt.Errorf("replay chat %s: %w", r.current.ChatID, err)
	}
	r.conn = c
	return nil
}

func (r *repl) disconnect(ctx context.Context) {
	if r.conn == nil {
		return
	}
	if err := r.conn.Close(ctx); err != nil {
		r.app.logger.Warn("closing agent", "error", err)
	}
	r.conn = nil
}

func (r *repl) list() error {
	refs, err := r.store.List()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		fmt.Fprintln(r.out, "No chats found in .cache/agnet/chats.")
		return nil
	}

	fmt.Fprintln(r.out, "Chats:")
	for i, ref := range refs {
		chat, err := r.store.Read(ref.ChatID)
		if err != nil {
			// unreadable entries are not listed
			continue
		}
		marker := " "
		if chat.ChatID == r.current.ChatID {
			marker = "*"
		}
		fmt.Fprintf(r.out, " %s[%d] %s  (%s, %d msgs)%s\n",
			marker, i+1, chat.ChatID, chat.ProviderID, len(chat.History), lastLine(chat.History))
	}
	return nil
}

func (r *repl) printHistory() {
	for _, msg := range r.current.History {
		prefix := "you: "
		if msg.Role == protocol.RoleAssistant {
			prefix = "agent: "
		}
		fmt.Fprintf(r.out, "%s%s\n", prefix, strings.TrimSuffix(msg.Content, "\n"))
	}
}

func lastLine(history []protocol.ChatMessage) string {
	if len(history) == 0 {
		return ""
	}
	text := strings.Join(strings.Fields(history[len(history)-1].Content), " ")
	if runes := []rune(text); len(runes) > 60 {
		text = string(runes[:57]) + "..."
	}
	return " - " + text
}

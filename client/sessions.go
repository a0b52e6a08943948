package client

import (
	"context"
	"sort"
	"strings"

	"github.com/machinefabric/agentinterop-go/protocol"
)

// Turn is the outcome of one session/send.
type Turn struct {
	// SessionID is the session the agent answered under; it is the
	// agent-chosen id when Send was called with an empty one.
	SessionID string
	// Message is the assistant turn from session/complete.
	Message protocol.ChatMessage
	// History is the full session history after the turn.
	History []protocol.ChatMessage
	// Text is the streamed deltas joined in index order, or the completion
	// content when nothing was streamed.
	Text string
	// Deltas counts the session/stream events received.
	Deltas    int
	ToolCalls []protocol.ToolCall
}

// StartSession opens a session. An empty id lets the agent pick one.
func (c *Client) StartSession(ctx context.Context, sessionID string) (string, error) {
	if err := c.send(protocol.SessionStart{SessionID: sessionID}); err != nil {
		return "", err
	}
	for {
		ev, err := c.WaitFor(ctx, protocol.TypeSessionStarted)
		if err != nil {
			return "", err
		}
		started := ev.(protocol.SessionStarted)
		if sessionID == "" || started.SessionID == sessionID {
			return started.SessionID, nil
		}
	}
}

// Send sends one user turn and collects the reply. onDelta, if set, sees
// each delta as it arrives. With an empty sessionID the agent generates one,
// and the first session event names it.
func (c *Client) Send(ctx context.Context, sessionID, content string, onDelta func(delta string)) (*Turn, error) {
	if err := c.send(protocol.SessionSend{SessionID: sessionID, Content: content}); err != nil {
		return nil, err
	}

	turn := &Turn{SessionID: sessionID}
	ours := func(id string) bool {
		if turn.SessionID == "" {
			turn.SessionID = id
		}
		return id == turn.SessionID
	}
	deltas := make(map[int]string)
	for {
		ev, err := c.next(ctx)
		if err != nil {
			return nil, err
		}

		switch ev := ev.(type) {
		case protocol.SessionStream:
			if !ours(ev.SessionID) {
				continue
			}
			deltas[ev.Index] = ev.Delta
			turn.Deltas++
			if onDelta != nil {
				onDelta(ev.Delta)
			}
		case protocol.ToolCall:
			if ours(ev.SessionID) {
				turn.ToolCalls = append(turn.ToolCalls, ev)
			}
		case protocol.SessionComplete:
			if !ours(ev.SessionID) {
				continue
			}
			turn.Message = ev.Message
			turn.History = ev.History
			if len(deltas) > 0 {
				turn.Text = joinByIndex(deltas)
			} else {
				turn.Text = ev.Message.Content
			}
			return turn, nil
		default:
			c.logger.Debug("skipping message", "type", ev.MessageType(), "session_id", turn.SessionID)
		}
	}
}

// Replay re-sends the user turns of history so a fresh agent rebuilds the
// session state. Replies are discarded. An empty sessionID replays into
// the session the agent creates for the first turn.
func (c *Client) Replay(ctx context.Context, sessionID string, history []protocol.ChatMessage) error {
	for _, msg := range history {
		if msg.Role != protocol.RoleUser {
			continue
		}
		turn, err := c.Send(ctx, sessionID, msg.Content, nil)
		if err != nil {
			return err
		}
		sessionID = turn.SessionID
	}
	return nil
}

// joinByIndex concatenates deltas sorted by index, whatever order they
// arrived in.
func joinByIndex(deltas map[int]string) string {
	indices := make([]int, 0, len(deltas))
	for i := range deltas {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var b strings.Builder
	for _, i := range indices {
		b.WriteString(deltas[i])
	}
	return b.String()
}

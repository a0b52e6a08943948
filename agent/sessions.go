package agent

import (
	"fmt"
	"unicode/utf16"

	"github.com/machinefabric/agentinterop-go/protocol"
)

// ToolName is the name carried by tool/call notifications.
const ToolName = "mock.tool"

type session struct {
	history []protocol.ChatMessage
	turns   int
}

// SessionEngine owns the session registry. Like TaskEngine it is driven
// only by the runtime loop.
type SessionEngine struct {
	sessions map[string]*session
	counter  int
	cfg      Config
}

// NewSessionEngine creates an empty registry.
func NewSessionEngine(cfg Config) *SessionEngine {
	return &SessionEngine{
		sessions: make(map[string]*session),
		cfg:      cfg,
	}
}

// Start creates the session if it is unseen and acknowledges it.
func (e *SessionEngine) Start(req protocol.SessionStart) protocol.SessionStarted {
	id := req.SessionID
	if id == "" {
		id = e.nextID()
	}
	e.get(id)
	return protocol.SessionStarted{SessionID: id}
}

// Send appends the user turn, streams the reply when streaming is on, and
// always finishes with a single session/complete carrying the history.
func (e *SessionEngine) Send(req protocol.SessionSend, s Stream) error {
	id := req.SessionID
	if id == "" {
		id = e.nextID()
	}
	sess := e.get(id)

	sess.history = append(sess.history, protocol.ChatMessage{Role: protocol.RoleUser, Content: req.Content})
	sess.turns++
	reply := fmt.Sprintf("MockAgent response #%d: %s", sess.turns, req.Content)

	if e.cfg.Streaming {
		if e.cfg.EmitToolCalls {
			if err := s.Emit(protocol.ToolCall{
				SessionID: id,
				Name:      ToolName,
				Args: map[string]any{
					"turn":        sess.turns,
					"inputLength": utf16Len(req.Content),
				},
			}); err != nil {
				return err
			}
		}

		for i, delta := range chunkString(reply, e.cfg.chunks()) {
			if err := s.Emit(protocol.SessionStream{SessionID: id, Index: i, Delta: delta}); err != nil {
				return err
			}
			if err := s.Yield(); err != nil {
				return err
			}
		}
	}

	message := protocol.ChatMessage{Role: protocol.RoleAssistant, Content: reply}
	sess.history = append(sess.history, message)

	history := make([]protocol.ChatMessage, len(sess.history))
	copy(history, sess.history)
	return s.Emit(protocol.SessionComplete{SessionID: id, Message: message, History: history})
}

func (e *SessionEngine) get(id string) *session {
	sess, ok := e.sessions[id]
	if !ok {
		sess = &session{}
		e.sessions[id] = sess
	}
	return sess
}

func (e *SessionEngine) nextID() string {
	e.counter++
	return fmt.Sprintf("session-%d", e.counter)
}

// utf16Len counts UTF-16 code units, the length controllers written for
// JavaScript hosts expect.
func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

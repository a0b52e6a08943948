// Package client is the controller side of the agent protocol. It matches
// replies to requests by message type, bounds every wait, and reassembles
// streamed deltas.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	agentinterop "github.com/machinefabric/agentinterop-go"
	"github.com/machinefabric/agentinterop-go/bifaci"
	"github.com/machinefabric/agentinterop-go/internal/logger"
	"github.com/machinefabric/agentinterop-go/protocol"
)

// DefaultReplyTimeout bounds each wait for an agent message.
const DefaultReplyTimeout = 2 * time.Second

var (
	// ErrTimeout is returned when no awaited message arrived in time. It is
	// a local failure; the protocol itself has no timeouts.
	ErrTimeout = errors.New("timed out waiting for agent")
	// ErrStreamEnded is returned when the agent's output ended before the
	// awaited message.
	ErrStreamEnded = errors.New("agent stream ended")
)

// TaskError is the tasks/error reply for an unknown task.
type TaskError struct {
	TaskID  string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %s", e.TaskID, e.Message)
}

// Option configures a Client.
type Option func(*Client)

// WithReplyTimeout sets the bound on each wait. Non-positive values keep
// the default.
func WithReplyTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger for skipped and undecodable messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.OrDiscard(l) }
}

// WithAgentArgs appends launch arguments when Dial spawns the agent.
func WithAgentArgs(args ...string) Option {
	return func(c *Client) { c.agentArgs = append(c.agentArgs, args...) }
}

// WithStderr receives the spawned agent's diagnostics.
func WithStderr(w io.Writer) Option {
	return func(c *Client) { c.stderr = w }
}

// WithProcessOptions forwards options to bifaci.Spawn.
func WithProcessOptions(opts ...bifaci.ProcessOption) Option {
	return func(c *Client) { c.processOpts = append(c.processOpts, opts...) }
}

// Client drives one agent connection. It is not safe for concurrent use:
// replies are matched by type in arrival order.
type Client struct {
	conn    *protocol.Conn
	proc    *bifaci.AgentProcess
	ready   protocol.Ready
	timeout time.Duration
	logger  *slog.Logger

	agentArgs   []string
	stderr      io.Writer
	processOpts []bifaci.ProcessOption
}

// New creates a client over an established connection.
func New(conn *protocol.Conn, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		timeout: DefaultReplyTimeout,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial spawns the agent described by card and waits for its ready message.
func Dial(ctx context.Context, card agentinterop.AgentCard, opts ...Option) (*Client, error) {
	c := New(nil, opts...)

	processOpts := append([]bifaci.ProcessOption{bifaci.WithProcessLogger(c.logger)}, c.processOpts...)
	proc, err := bifaci.Spawn(ctx, card.SpawnCommand(c.stderr, c.agentArgs...), processOpts...)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", card.ID, err)
	}
	c.proc = proc
	c.conn = protocol.NewConn(proc.Transport())

	ev, err := c.WaitFor(ctx, protocol.TypeReady)
	if err != nil {
		_ = proc.Close(context.Background())
		return nil, fmt.Errorf("wait for %s ready: %w", card.ID, err)
	}
	c.ready = ev.(protocol.Ready)
	c.logger.Debug("agent ready", "agent", card.ID, "pid", c.ready.PID, "version", c.ready.Version)
	return c, nil
}

// Ready returns the ready message received by Dial.
func (c *Client) Ready() protocol.Ready {
	return c.ready
}

// Process returns the spawned agent, or nil for a client made with New.
func (c *Client) Process() *bifaci.AgentProcess {
	return c.proc
}

// Close shuts the connection down, stopping the agent if Dial started it.
func (c *Client) Close(ctx context.Context) error {
	if c.proc != nil {
		return c.proc.Close(ctx)
	}
	return c.conn.Close()
}

// WaitFor returns the next event whose type is one of types, discarding
// others. It fails with ErrTimeout or ErrStreamEnded.
func (c *Client) WaitFor(ctx context.Context, types ...protocol.MessageType) (protocol.Event, error) {
	for {
		ev, err := c.next(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for %v: %w", types, err)
		}
		if slices.Contains(types, ev.MessageType()) {
			return ev, nil
		}
		c.logger.Debug("skipping message", "type", ev.MessageType())
	}
}

func (c *Client) send(req protocol.Request) error {
	if err := c.conn.Send(req); err != nil {
		return fmt.Errorf("send %s: %w", req.MessageType(), err)
	}
	return nil
}

// next reads one event within the reply timeout. Undecodable messages are
// logged and skipped.
func (c *Client) next(ctx context.Context) (protocol.Event, error) {
	waitCtx, cancel := context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	defer cancel()

	for {
		ev, err := c.conn.ReadEvent(waitCtx)
		if err == nil {
			return ev, nil
		}

		var derr *protocol.DecodeError
		switch {
		case errors.As(err, &derr):
			c.logger.Warn("skipping undecodable message", "error", err)
			continue
		case errors.Is(err, io.EOF):
			if terr := c.conn.Transport().Err(); terr != nil {
				return nil, fmt.Errorf("%w: %w", ErrStreamEnded, terr)
			}
			return nil, ErrStreamEnded
		case errors.Is(context.Cause(waitCtx), ErrTimeout) && ctx.Err() == nil:
			return nil, ErrTimeout
		default:
			return nil, err
		}
	}
}

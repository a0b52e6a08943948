// Package agent implements the reference agent runtime: a single loop that
// reads requests from a transport, owns the task and session registries,
// and answers with deterministic events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/machinefabric/agentinterop-go/bifaci"
	"github.com/machinefabric/agentinterop-go/internal/logger"
	"github.com/machinefabric/agentinterop-go/protocol"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger for skipped messages and lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger.OrDiscard(l) }
}

// WithClock replaces time.Now for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// WithPID sets the pid announced in ready. Defaults to os.Getpid().
func WithPID(pid int) Option {
	return func(r *Runtime) { r.pid = pid }
}

// Runtime processes requests strictly one at a time in arrival order.
//
// Streaming handlers call Yield after every delta. Yield drains requests
// that are already queued on the transport and handles the non-streaming
// ones inline, so a tasks/cancel sent behind a tasks/subscribe is seen
// before the next delta. The first streaming request found is parked and
// polling stops until the loop has taken it, which keeps everything behind
// it in arrival order.
type Runtime struct {
	conn   *protocol.Conn
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	pid    int

	tasks    *TaskEngine
	sessions *SessionEngine

	parked protocol.Request
}

// New creates a runtime serving conn.
func New(conn *protocol.Conn, cfg Config, opts ...Option) *Runtime {
	r := &Runtime{
		conn:   conn,
		cfg:    cfg,
		logger: logger.Discard(),
		now:    time.Now,
		pid:    os.Getpid(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tasks = NewTaskEngine(cfg.chunks(), r.now)
	r.sessions = NewSessionEngine(cfg)
	return r
}

// Serve writes ready and handles requests until the inbound stream ends,
// which is a clean shutdown, or ctx is done, or a write fails.
func (r *Runtime) Serve(ctx context.Context) error {
	if err := r.Emit(protocol.Ready{PID: r.pid, Version: bifaci.ProtocolVersion}); err != nil {
		return fmt.Errorf("send ready: %w", err)
	}
	r.logger.Info("agent runtime ready",
		"pid", r.pid, "chunks", r.cfg.chunks(), "streaming", r.cfg.Streaming, "tool_calls", r.cfg.EmitToolCalls)

	for {
		req, err := r.next(ctx)
		if errors.Is(err, io.EOF) {
			r.logger.Info("inbound stream ended", "error", r.conn.Transport().Err())
			return nil
		}
		if err != nil {
			return err
		}
		if req == nil {
			continue
		}
		if err := r.dispatch(req); err != nil {
			return fmt.Errorf("handle %s: %w", req.MessageType(), err)
		}
	}
}

// Emit writes one event.
func (r *Runtime) Emit(ev protocol.Event) error {
	return r.conn.Send(ev)
}

// Yield handles queued non-streaming requests without blocking.
func (r *Runtime) Yield() error {
	if r.parked != nil {
		return nil
	}
	for {
		req, ok, err := r.conn.TryReadRequest()
		if !ok {
			return nil
		}
		if err != nil {
			r.skip(err)
			continue
		}
		if isStreaming(req) {
			r.parked = req
			return nil
		}
		if err := r.dispatch(req); err != nil {
			return fmt.Errorf("handle %s: %w", req.MessageType(), err)
		}
	}
}

func (r *Runtime) next(ctx context.Context) (protocol.Request, error) {
	if req := r.parked; req != nil {
		r.parked = nil
		return req, nil
	}
	req, err := r.conn.ReadRequest(ctx)
	if err != nil {
		var derr *protocol.DecodeError
		if errors.As(err, &derr) {
			r.skip(err)
			return nil, nil
		}
		return nil, err
	}
	return req, nil
}

func (r *Runtime) dispatch(req protocol.Request) error {
	r.logger.Debug("request", "type", req.MessageType())

	switch req := req.(type) {
	case protocol.TasksCreate:
		return r.Emit(r.tasks.Create(req))
	case protocol.TasksList:
		return r.Emit(r.tasks.List(req))
	case protocol.TasksGet:
		return r.Emit(r.tasks.Get(req))
	case protocol.TasksCancel:
		return r.Emit(r.tasks.Cancel(req))
	case protocol.TasksSubscribe:
		return r.tasks.Subscribe(req, r)
	case protocol.SessionStart:
		return r.Emit(r.sessions.Start(req))
	case protocol.SessionSend:
		return r.sessions.Send(req, r)
	default:
		r.logger.Warn("no handler for request", "type", req.MessageType())
		return nil
	}
}

// skip logs an undecodable or unknown message. Unrecognized types are
// ignored rather than answered.
func (r *Runtime) skip(err error) {
	r.logger.Warn("skipping message", "error", err)
}

func isStreaming(req protocol.Request) bool {
	switch req.(type) {
	case protocol.TasksSubscribe, protocol.SessionSend:
		return true
	}
	return false
}

// ServeStdio runs a runtime on the process's stdin and stdout with a
// Config parsed from args and the environment. Diagnostics go to l, which
// must not write to stdout.
func ServeStdio(ctx context.Context, args []string, l *slog.Logger) error {
	l = logger.OrDiscard(l)
	t := bifaci.NewTransport(os.Stdin, os.Stdout, bifaci.WithLogger(l))
	defer t.Close()

	rt := New(protocol.NewConn(t), ParseArgs(args, os.Getenv), WithLogger(l))
	return rt.Serve(ctx)
}

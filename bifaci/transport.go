package bifaci

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/machinefabric/agentinterop-go/internal/logger"
)

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithLimits sets the framing limits for both directions.
func WithLimits(limits Limits) TransportOption {
	return func(t *Transport) { t.limits = limits.normalize() }
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// Transport is a duplex message channel over one byte source and one byte
// sink. Outbound messages are framed and written whole; inbound bytes are
// decoded by a reader goroutine into an ordered queue with a single consumer.
//
// The synchronization model is a mutex-guarded queue plus a notify channel
// that is closed and replaced on every state change, so waiters can select on
// it together with their context.
type Transport struct {
	source io.Reader
	writer *FrameWriter
	limits Limits
	logger *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	queue  []json.RawMessage
	notify chan struct{}
	ended  bool
	closed bool
	err    error
	done   chan struct{}
}

// NewTransport attaches a transport to r and w and starts reading from r.
func NewTransport(r io.Reader, w io.Writer, opts ...TransportOption) *Transport {
	t := &Transport{
		source: r,
		limits: DefaultLimits(),
		logger: logger.Discard(),
		notify: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.writer = NewFrameWriter(w)
	t.writer.SetLimits(t.limits)

	go t.readLoop()
	return t
}

// Send frames payload and writes it to the sink. It returns only after the
// sink accepted all bytes or failed. A sink failure closes the transport.
func (t *Transport) Send(payload []byte) error {
	if t.isClosed() {
		return &TransportError{Type: TransportErrorClosed}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.isClosed() {
		return &TransportError{Type: TransportErrorClosed}
	}

	if err := t.writer.WriteFrame(payload); err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return err
		}
		werr := &TransportError{Type: TransportErrorIo, Message: "write frame", Err: err}
		t.logger.Debug("transport write failed", "error", err)
		t.markClosed(werr)
		return werr
	}
	return nil
}

// SendMessage serializes v as JSON and sends it.
func (t *Transport) SendMessage(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Send(payload)
}

// Next returns the next inbound payload in arrival order. It blocks until a
// payload is available, returns io.EOF once the stream ended and the queue is
// drained, or returns ctx.Err() if ctx is done first.
func (t *Transport) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		t.mu.Lock()
		if msg, ok := t.popLocked(); ok {
			t.mu.Unlock()
			return msg, nil
		}
		if t.ended {
			t.mu.Unlock()
			return nil, io.EOF
		}
		wait := t.notify
		t.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryNext returns the next queued payload without blocking.
func (t *Transport) TryNext() (json.RawMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.popLocked()
}

// Close detaches the transport from its source and releases every waiter
// with end-of-stream. Payloads already queued remain readable. Safe to call
// multiple times and after the source ended.
func (t *Transport) Close() error {
	t.markClosed(nil)
	return nil
}

// Done is closed once no further payloads will be queued.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the terminal error after Done is closed: a framing error, a
// read or write error, or nil for a clean end of stream or explicit Close.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transport) readLoop() {
	decoder := NewFrameDecoder()
	decoder.SetLimits(t.limits)
	buf := make([]byte, t.limits.ReadChunk)

	for {
		n, err := t.source.Read(buf)
		if t.isClosed() {
			return
		}
		if n > 0 {
			msgs, derr := decoder.Push(buf[:n])
			t.enqueue(msgs)
			if derr != nil {
				t.logger.Warn("closing transport on framing error", "error", derr)
				t.markClosed(derr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if decoder.Buffered() > 0 {
					t.logger.Debug("source ended inside a frame", "buffered", decoder.Buffered())
				}
				t.finish(nil)
			} else {
				t.finish(&TransportError{Type: TransportErrorIo, Message: "read", Err: err})
			}
			return
		}
	}
}

func (t *Transport) popLocked() (json.RawMessage, bool) {
	if len(t.queue) == 0 {
		return nil, false
	}
	msg := t.queue[0]
	t.queue[0] = nil
	t.queue = t.queue[1:]
	if len(t.queue) == 0 {
		t.queue = nil
	}
	return msg, true
}

func (t *Transport) enqueue(msgs []json.RawMessage) {
	if len(msgs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	t.queue = append(t.queue, msgs...)
	t.signalLocked()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) markClosed(err error) {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.finish(err)
}

// finish ends the inbound stream exactly once.
func (t *Transport) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	t.ended = true
	t.err = err
	t.signalLocked()
	close(t.done)
}

func (t *Transport) signalLocked() {
	close(t.notify)
	t.notify = make(chan struct{})
}

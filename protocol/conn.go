package protocol

import (
	"context"

	"github.com/machinefabric/agentinterop-go/bifaci"
)

// Conn sends and receives typed messages over a transport.
type Conn struct {
	transport *bifaci.Transport
}

// NewConn wraps t.
func NewConn(t *bifaci.Transport) *Conn {
	return &Conn{transport: t}
}

// Transport returns the underlying transport.
func (c *Conn) Transport() *bifaci.Transport {
	return c.transport
}

// Send marshals m and writes it as one frame.
func (c *Conn) Send(m Message) error {
	payload, err := Marshal(m)
	if err != nil {
		return err
	}
	return c.transport.Send(payload)
}

// ReadRequest returns the next inbound request. A *DecodeError means the
// payload was consumed but could not be decoded; the next call reads on.
// io.EOF marks the end of the stream.
func (c *Conn) ReadRequest(ctx context.Context) (Request, error) {
	raw, err := c.transport.Next(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(raw)
}

// TryReadRequest is ReadRequest without blocking. ok is false when nothing
// is queued.
func (c *Conn) TryReadRequest() (req Request, ok bool, err error) {
	raw, ok := c.transport.TryNext()
	if !ok {
		return nil, false, nil
	}
	req, err = DecodeRequest(raw)
	return req, true, err
}

// ReadEvent returns the next inbound event, with the same error contract
// as ReadRequest.
func (c *Conn) ReadEvent(ctx context.Context) (Event, error) {
	raw, err := c.transport.Next(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeEvent(raw)
}

// Close closes the underlying transport.
func (c *Conn) Close() error {
	return c.transport.Close()
}

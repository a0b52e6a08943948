package bifaci

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Protocol version announced by the agent runtime in its ready message.
const ProtocolVersion int = 1

// headerSize is the width of the big-endian length prefix.
const headerSize = 4

// EncodeFrame prefixes payload with its length as a 4-byte big-endian
// unsigned integer.
func EncodeFrame(payload []byte) ([]byte, error) {
	return encodeFrameLimit(payload, DefaultMaxFrame)
}

func encodeFrameLimit(payload []byte, maxFrame int) ([]byte, error) {
	if len(payload) > maxFrame || int64(len(payload)) > MaxFrameHardLimit {
		return nil, newFrameTooLargeError(uint64(len(payload)), maxFrame)
	}
	if !utf8.Valid(payload) {
		return nil, &ProtocolError{Type: ProtocolErrorInvalidUtf8, Message: "refusing to encode"}
	}

	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame, nil
}

// EncodeMessage serializes v as JSON and frames it.
func EncodeMessage(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return EncodeFrame(payload)
}

// FrameDecoder turns an arbitrarily split byte stream back into payloads.
//
// Push accepts chunks of any size, including empty chunks and chunks that
// hold several frames, and returns every payload completed so far. The
// decoder fails closed: after the first error it discards all input.
type FrameDecoder struct {
	buf    []byte
	offset int
	limits Limits
	err    error
}

// NewFrameDecoder creates a decoder with the default limits
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{limits: DefaultLimits()}
}

// SetLimits updates the decoder's limits
func (d *FrameDecoder) SetLimits(limits Limits) {
	d.limits = limits.normalize()
}

// Err returns the sticky decoding error, if any.
func (d *FrameDecoder) Err() error {
	return d.err
}

// Buffered reports how many bytes of an incomplete frame are held.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf) - d.offset
}

// Push appends chunk to the internal buffer and returns all complete payloads.
// Payloads are copies and stay valid after later calls.
func (d *FrameDecoder) Push(chunk []byte) ([]json.RawMessage, error) {
	if d.err != nil {
		return nil, d.err
	}
	if len(chunk) == 0 {
		return nil, nil
	}

	// Compact before growing so consumed bytes are not carried forward.
	if d.offset > 0 {
		d.buf = append(d.buf[:0], d.buf[d.offset:]...)
		d.offset = 0
	}
	d.buf = append(d.buf, chunk...)

	var out []json.RawMessage
	for {
		remaining := len(d.buf) - d.offset
		if remaining < headerSize {
			break
		}

		length := binary.BigEndian.Uint32(d.buf[d.offset : d.offset+headerSize])
		if uint64(length) > uint64(d.maxFrame()) {
			d.fail(newFrameTooLargeError(uint64(length), d.maxFrame()))
			return out, d.err
		}
		if remaining < headerSize+int(length) {
			break
		}

		start := d.offset + headerSize
		end := start + int(length)
		payload := make([]byte, length)
		copy(payload, d.buf[start:end])
		d.offset = end

		if err := validatePayload(payload); err != nil {
			d.fail(err)
			return out, d.err
		}
		out = append(out, json.RawMessage(payload))
	}

	if d.offset == len(d.buf) {
		d.buf = nil
		d.offset = 0
	}

	return out, nil
}

func (d *FrameDecoder) maxFrame() int {
	if d.limits.MaxFrame <= 0 {
		return DefaultMaxFrame
	}
	return d.limits.MaxFrame
}

func (d *FrameDecoder) fail(err error) {
	d.err = err
	d.buf = nil
	d.offset = 0
}

// validatePayload checks that a payload is UTF-8 text holding a JSON object.
func validatePayload(payload []byte) error {
	if !utf8.Valid(payload) {
		return &ProtocolError{
			Type:    ProtocolErrorInvalidUtf8,
			Message: fmt.Sprintf("%d byte payload", len(payload)),
		}
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return &ProtocolError{Type: ProtocolErrorInvalidPayload, Message: err.Error()}
	}
	if probe == nil {
		return &ProtocolError{Type: ProtocolErrorInvalidPayload, Message: "payload is not an object"}
	}
	return nil
}

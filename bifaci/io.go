package bifaci

import (
	"io"
)

// FrameWriter writes length-prefixed frames to a stream
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits.normalize()
}

// WriteFrame frames payload and writes it with a single Write call, so the
// call returns only once the sink accepted every byte or failed.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	frame, err := encodeFrameLimit(payload, fw.limits.MaxFrame)
	if err != nil {
		return err
	}

	n, err := fw.writer.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

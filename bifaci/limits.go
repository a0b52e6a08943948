package bifaci

// DefaultMaxFrame is the largest payload a frame may declare (100 MiB).
// A larger declared length is a protocol violation, not a partial read.
const DefaultMaxFrame int = 100 * 1024 * 1024

// MaxFrameHardLimit is the largest length the 4-byte prefix can express.
const MaxFrameHardLimit int64 = 1<<32 - 1

// DefaultReadChunk is the size of each read from the transport source.
const DefaultReadChunk int = 32 * 1024

// Limits holds the framing limits of one transport.
type Limits struct {
	MaxFrame  int
	ReadChunk int
}

// DefaultLimits returns the default framing limits
func DefaultLimits() Limits {
	return Limits{
		MaxFrame:  DefaultMaxFrame,
		ReadChunk: DefaultReadChunk,
	}
}

// normalize fills zero or out-of-range fields with their defaults.
func (l Limits) normalize() Limits {
	if l.MaxFrame <= 0 || int64(l.MaxFrame) > MaxFrameHardLimit {
		l.MaxFrame = DefaultMaxFrame
	}
	if l.ReadChunk <= 0 {
		l.ReadChunk = DefaultReadChunk
	}
	return l
}

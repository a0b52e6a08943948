package agent

import (
	"strconv"
	"strings"
)

// StreamingEnv overrides the streaming default when set to 1/true/on or
// 0/false/off. Flags still win over it.
const StreamingEnv = "AGENTINTEROP_STREAMING"

// DefaultChunks is the number of deltas a response is split into.
const DefaultChunks = 5

// Config holds the deterministic knobs of the reference runtime.
type Config struct {
	// Chunks is the number of contiguous pieces each response is split
	// into. Values below 1 are treated as 1.
	Chunks int
	// Streaming enables session/stream deltas. When false a send yields
	// only the completion.
	Streaming bool
	// EmitToolCalls adds one tool/call notification before the deltas of
	// each streamed send.
	EmitToolCalls bool
}

// DefaultConfig returns streaming on with DefaultChunks chunks.
func DefaultConfig() Config {
	return Config{Chunks: DefaultChunks, Streaming: true}
}

// ParseArgs builds a Config from launch arguments and the environment.
// Unrecognized arguments and unparseable values are ignored.
//
//	--chunks=<n>          n >= 1
//	--streaming=on|off
//	--emitToolCalls
func ParseArgs(args []string, getenv func(string) string) Config {
	cfg := DefaultConfig()

	if getenv != nil {
		if v, ok := parseToggle(getenv(StreamingEnv), true); ok {
			cfg.Streaming = v
		}
	}

	for _, arg := range args {
		switch {
		case arg == "--emitToolCalls":
			cfg.EmitToolCalls = true
		case strings.HasPrefix(arg, "--streaming="):
			if v, ok := parseToggle(strings.TrimPrefix(arg, "--streaming="), false); ok {
				cfg.Streaming = v
			}
		case strings.HasPrefix(arg, "--chunks="):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(arg, "--chunks=")))
			if err == nil && n >= 1 {
				cfg.Chunks = n
			}
		}
	}
	return cfg
}

// parseToggle accepts on/off, and 1/0 and true/false when loose is set.
func parseToggle(raw string, loose bool) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on":
		return true, true
	case "off":
		return false, true
	case "1", "true":
		return true, loose
	case "0", "false":
		return false, loose
	}
	return false, false
}

func (c Config) chunks() int {
	if c.Chunks < 1 {
		return 1
	}
	return c.Chunks
}

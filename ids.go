package agentinterop

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns "<prefix>-<unix seconds>-<8 hex chars>", unique enough to
// name CLI sessions and one-shot invocations.
func NewID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().Unix(), suffix)
}

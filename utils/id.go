package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTaskID returns an opaque, immutable task identifier.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// NewCommandRef returns the reference id attached to a ledger command. The
// gateway deduplicates on it, which is what keeps retried submissions from
// applying twice.
func NewCommandRef() string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("PP-%d-%s", time.Now().UnixNano()%1000000, short)
}

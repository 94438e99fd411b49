package durex

import (
	"time"

	"github.com/google/uuid"
)

// NewWorkerID generates a globally unique, time-sortable worker identifier
// (UUIDv7, RFC 9562) used as the owner tag stamped on step records.
func NewWorkerID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// nowMS returns the current wall-clock time as Unix milliseconds.
func nowMS() int64 {
	return time.Now().UnixMilli()
}

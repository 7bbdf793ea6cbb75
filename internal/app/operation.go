package app

import (
	"time"

	"connsync/internal/connectors"
)

// Operation tracks one CLI command or server process. Its RunID tags every
// log line so interleaved processes can be told apart in connsync.log.
type Operation struct {
	RunID     string
	Command   string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation creates an operation for command with a fresh run id.
func NewOperation(command string, ids connectors.IDGenerator, clock connectors.Clock) *Operation {
	return &Operation{
		RunID:     ids.New(),
		Command:   command,
		StartedAt: clock.Now(),
		Status:    "success",
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() { op.Status = "error" }

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(clock connectors.Clock) time.Duration {
	return clock.Now().Sub(op.StartedAt)
}

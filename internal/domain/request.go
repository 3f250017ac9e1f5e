package domain

import (
	"encoding/json"
	"time"
)

// CreateInstanceRequest is the orchestrator's spawn registration.
type CreateInstanceRequest struct {
	TaskID     string `json:"task_id"`
	TaskListID string `json:"task_list_id"`
	PID        *int   `json:"pid,omitempty"`
}

// CreateInstanceResponse returns the identifiers the spawned process uses for
// all subsequent calls.
type CreateInstanceResponse struct {
	InstanceID  string `json:"instance_id"`
	ExecutionID string `json:"execution_id"`
	TaskID      string `json:"task_id"`
}

// HeartbeatRequest is the periodic liveness signal from a running instance.
type HeartbeatRequest struct {
	Ts int64 `json:"ts"` // Unix milliseconds
}

// TerminalRequest is a worker's graceful self-reported completion or failure.
type TerminalRequest struct {
	Status InstanceStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

// EmitRequest is one telemetry write through the emission facade. Sequence is
// never accepted from the caller.
type EmitRequest struct {
	ExecutionID   string          `json:"execution_id"`
	InstanceID    string          `json:"instance_id"`
	TaskID        string          `json:"task_id"`
	EntryType     EntryType       `json:"entry_type"`
	Category      string          `json:"category,omitempty"`
	Summary       string          `json:"summary"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	DroppedBefore int             `json:"dropped_before,omitempty"`
}

// EmitResponse acknowledges a durable commit.
type EmitResponse struct {
	EntryID     string    `json:"entry_id"`
	Sequence    int64     `json:"sequence"`
	CommittedAt time.Time `json:"committed_at"`
}

// ErrorBody is the wire form of a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

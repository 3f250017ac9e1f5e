package domain

import (
	"encoding/json"
	"time"
)

// TranscriptEntry represents one ordered, durable telemetry event within an
// execution. Sequence is assigned by the emission facade, never by the
// caller, and is strictly increasing per execution. DroppedBefore carries the
// caller's dropped-event count when its local queue overflowed; gaps are
// never silent.
type TranscriptEntry struct {
	EntryID       string          `json:"entry_id"`
	ExecutionID   string          `json:"execution_id"`
	InstanceID    string          `json:"instance_id"`
	TaskID        string          `json:"task_id"`
	Sequence      int64           `json:"sequence"`
	EntryType     EntryType       `json:"entry_type"`
	Category      string          `json:"category"`
	Summary       string          `json:"summary"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	DroppedBefore int             `json:"dropped_before,omitempty"`
	CommittedAt   time.Time       `json:"committed_at"`
}

// ToolUsePayload is the structured payload for tool_use entries. It is also
// projected into its own table for efficient lookup.
type ToolUsePayload struct {
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	ExitCode   *int            `json:"exit_code,omitempty"`
}

// AssertionPayload is the structured payload for assertion entries, projected
// into its own table.
type AssertionPayload struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// ToolUse is a projected tool_use entry.
type ToolUse struct {
	EntryID     string          `json:"entry_id"`
	ExecutionID string          `json:"execution_id"`
	Sequence    int64           `json:"sequence"`
	ToolName    string          `json:"tool_name"`
	Args        json.RawMessage `json:"args,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

// AssertionResult is a projected assertion entry.
type AssertionResult struct {
	EntryID     string    `json:"entry_id"`
	ExecutionID string    `json:"execution_id"`
	Sequence    int64     `json:"sequence"`
	Name        string    `json:"name"`
	Passed      bool      `json:"passed"`
	Detail      string    `json:"detail,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// LifecyclePayload is the payload for lifecycle entries written by the
// supervisor itself (created, running, reaped, terminal transitions).
type LifecyclePayload struct {
	From   InstanceStatus `json:"from,omitempty"`
	To     InstanceStatus `json:"to"`
	Reason string         `json:"reason,omitempty"`
	Actor  string         `json:"actor,omitempty"` // worker, orchestrator, reaper
}

// StreamNotice is pushed to a subscriber instead of an entry when delivery
// cannot be continuous (slow consumer disconnect, replay boundary).
type StreamNotice struct {
	Notice       string `json:"notice"` // gap, replay_complete
	ExecutionID  string `json:"execution_id,omitempty"`
	LastSequence int64  `json:"last_sequence,omitempty"`
}

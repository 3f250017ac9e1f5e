// Package domain defines the core domain models for the supervisor.
package domain

// InstanceStatus represents the declared lifecycle state of an instance.
type InstanceStatus string

const (
	InstanceStatusPending    InstanceStatus = "pending"
	InstanceStatusRunning    InstanceStatus = "running"
	InstanceStatusCompleted  InstanceStatus = "completed"
	InstanceStatusFailed     InstanceStatus = "failed"
	InstanceStatusTerminated InstanceStatus = "terminated"
)

// IsTerminal reports whether the status is one of the terminal states.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusTerminated:
		return true
	}
	return false
}

// EntryType represents the type of a transcript entry.
type EntryType string

const (
	EntryTypeLifecycle EntryType = "lifecycle"
	EntryTypeToolUse   EntryType = "tool_use"
	EntryTypeError     EntryType = "error"
	EntryTypeHeartbeat EntryType = "heartbeat"
	EntryTypeAssertion EntryType = "assertion"
)

// ExecutionOutcome represents the final outcome of an execution.
type ExecutionOutcome string

const (
	ExecutionOutcomeSucceeded  ExecutionOutcome = "succeeded"
	ExecutionOutcomeFailed     ExecutionOutcome = "failed"
	ExecutionOutcomeTerminated ExecutionOutcome = "terminated"
)

// TerminationReasonStale is the reason the reaper writes when a running
// instance's heartbeat has gone silent beyond the configured timeout.
const TerminationReasonStale = "stale_heartbeat"

package domain

import "time"

// Instance represents one spawned worker process and its tracked lifecycle
// state. Instances are never deleted; terminal rows may be archived after a
// retention window.
type Instance struct {
	InstanceID        string         `json:"instance_id"`
	TaskID            string         `json:"task_id"`
	TaskListID        string         `json:"task_list_id"`
	Status            InstanceStatus `json:"status"`
	PID               *int           `json:"pid,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	LastHeartbeatAt   *time.Time     `json:"last_heartbeat_at,omitempty"`
	TerminationReason string         `json:"termination_reason,omitempty"`
	ArchivedAt        *time.Time     `json:"archived_at,omitempty"`
}

// Execution represents one task attempt owned by exactly one instance.
// Retries create new instances and new executions, never reuse.
type Execution struct {
	ExecutionID string           `json:"execution_id"`
	InstanceID  string           `json:"instance_id"`
	TaskID      string           `json:"task_id"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Outcome     ExecutionOutcome `json:"outcome,omitempty"`
}

// EffectiveStatus is the reconciled view of an instance that every consumer
// must use. IsStale is computed at read time from the stored status plus
// heartbeat recency, never cached.
type EffectiveStatus struct {
	InstanceID        string         `json:"instance_id"`
	Found             bool           `json:"found"`
	Status            InstanceStatus `json:"status,omitempty"`
	IsStale           bool           `json:"is_stale"`
	LastSeenAgo       *time.Duration `json:"last_seen_ago_ms,omitempty"`
	TerminationReason string         `json:"termination_reason,omitempty"`
	Archived          bool           `json:"archived,omitempty"`
}

// InstanceView is a single row of the reconciled listing.
type InstanceView struct {
	Instance
	IsStale     bool           `json:"is_stale"`
	LastSeenAgo *time.Duration `json:"last_seen_ago_ms,omitempty"`
}

// InstanceFilter selects instances for ListInstances.
type InstanceFilter struct {
	Status          InstanceStatus
	TaskListID      string
	IncludeArchived bool
	Limit           int
}

// Package repository defines the storage interface and implementations.
package repository

import (
	"context"
	"time"

	"github.com/taskforge/warden/internal/domain"
)

// Store defines the interface for data persistence. All status updates are
// compare-and-swap: they report whether the row was actually changed so the
// caller can distinguish a won race from a lost one.
type Store interface {
	// Instance operations
	CreateInstance(ctx context.Context, instance *domain.Instance, execution *domain.Execution) error
	GetInstance(ctx context.Context, instanceID string) (*domain.Instance, error)
	UpdateInstanceStatus(ctx context.Context, instanceID string, from, to domain.InstanceStatus) (bool, error)
	TerminateInstance(ctx context.Context, instanceID string, status domain.InstanceStatus, reason string) (bool, error)
	UpdateHeartbeat(ctx context.Context, instanceID string, ts time.Time) (bool, error)
	ListInstances(ctx context.Context, filter domain.InstanceFilter) ([]domain.Instance, error)
	ListStaleInstances(ctx context.Context, cutoff time.Time, limit int) ([]domain.Instance, error)
	ArchiveInstances(ctx context.Context, terminalBefore time.Time, at time.Time) (int64, error)

	// Execution operations
	GetExecution(ctx context.Context, executionID string) (*domain.Execution, error)
	GetExecutionByInstance(ctx context.Context, instanceID string) (*domain.Execution, error)
	CompleteExecution(ctx context.Context, executionID string, outcome domain.ExecutionOutcome, at time.Time) (bool, error)

	// Transcript operations. CreateEntry assigns entry.Sequence; it is the
	// only write path into the transcript tables.
	CreateEntry(ctx context.Context, entry *domain.TranscriptEntry) error
	GetEntries(ctx context.Context, executionID string, fromSequence int64, limit int) ([]domain.TranscriptEntry, error)
	ListToolUses(ctx context.Context, executionID string) ([]domain.ToolUse, error)
	ListAssertions(ctx context.Context, executionID string) ([]domain.AssertionResult, error)

	// Lifecycle
	Close() error
}

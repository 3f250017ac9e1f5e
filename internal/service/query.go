package service

import (
	"context"
	"time"

	"github.com/taskforge/warden/internal/domain"
)

// EffectiveStatus is the only status representation consumers may use. It
// combines the stored status with heartbeat recency at read time: a raw read
// of the status column is exactly how dashboards end up showing work that
// died hours ago as running. A missing instance yields Found=false, never an
// error.
func (s *Service) EffectiveStatus(ctx context.Context, instanceID string) (*domain.EffectiveStatus, error) {
	instance, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, storeErr(err)
	}
	if instance == nil {
		return &domain.EffectiveStatus{InstanceID: instanceID, Found: false}, nil
	}

	status := &domain.EffectiveStatus{
		InstanceID:        instance.InstanceID,
		Found:             true,
		Status:            instance.Status,
		TerminationReason: instance.TerminationReason,
		Archived:          instance.ArchivedAt != nil,
	}
	status.IsStale, status.LastSeenAgo = s.reconcile(instance)
	return status, nil
}

// ListInstances returns the reconciled view for every matching instance.
func (s *Service) ListInstances(ctx context.Context, filter domain.InstanceFilter) ([]domain.InstanceView, error) {
	instances, err := s.store.ListInstances(ctx, filter)
	if err != nil {
		return nil, storeErr(err)
	}

	views := make([]domain.InstanceView, len(instances))
	for i, instance := range instances {
		views[i] = domain.InstanceView{Instance: instance}
		views[i].IsStale, views[i].LastSeenAgo = s.reconcile(&instance)
	}
	return views, nil
}

// reconcile computes staleness from stored status plus heartbeat recency. A
// running instance with no recorded heartbeat is judged by its startup time,
// so a worker that died before its first beat still reads as stale.
func (s *Service) reconcile(instance *domain.Instance) (isStale bool, lastSeenAgo *time.Duration) {
	if instance.LastHeartbeatAt != nil {
		ago := s.now().Sub(*instance.LastHeartbeatAt)
		lastSeenAgo = &ago
		if instance.Status == domain.InstanceStatusRunning && ago > s.config.StaleTimeout() {
			isStale = true
		}
		return isStale, lastSeenAgo
	}
	if instance.Status == domain.InstanceStatusRunning && s.now().Sub(instance.StartedAt) > s.config.StaleTimeout() {
		isStale = true
	}
	return isStale, lastSeenAgo
}

// GetTranscript returns ordered entries with sequence >= fromSequence,
// supporting resumable polling.
func (s *Service) GetTranscript(ctx context.Context, executionID string, fromSequence int64, limit int) ([]domain.TranscriptEntry, error) {
	execution, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, storeErr(err)
	}
	if execution == nil {
		return nil, domain.ErrNotFound
	}
	entries, err := s.store.GetEntries(ctx, executionID, fromSequence, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return entries, nil
}

// GetToolUses returns the tool-use projection for an execution.
func (s *Service) GetToolUses(ctx context.Context, executionID string) ([]domain.ToolUse, error) {
	uses, err := s.store.ListToolUses(ctx, executionID)
	if err != nil {
		return nil, storeErr(err)
	}
	return uses, nil
}

// GetAssertions returns the assertion projection for an execution.
func (s *Service) GetAssertions(ctx context.Context, executionID string) ([]domain.AssertionResult, error) {
	results, err := s.store.ListAssertions(ctx, executionID)
	if err != nil {
		return nil, storeErr(err)
	}
	return results, nil
}

// GetExecution resolves an execution, for transport-level validation.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	execution, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, storeErr(err)
	}
	return execution, nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/taskforge/warden/internal/domain"
)

// Lifecycle actors recorded on transition entries.
const (
	actorOrchestrator = "orchestrator"
	actorWorker       = "worker"
	actorReaper       = "reaper"
)

// CreateInstance registers a spawned worker (status pending) and its
// one-to-one execution.
func (s *Service) CreateInstance(ctx context.Context, req domain.CreateInstanceRequest) (*domain.Instance, *domain.Execution, error) {
	if req.TaskID == "" {
		return nil, nil, fmt.Errorf("task_id is required")
	}
	if req.TaskListID == "" {
		return nil, nil, fmt.Errorf("task_list_id is required")
	}

	now := s.now()
	instance := &domain.Instance{
		InstanceID: newID("inst"),
		TaskID:     req.TaskID,
		TaskListID: req.TaskListID,
		Status:     domain.InstanceStatusPending,
		PID:        req.PID,
		StartedAt:  now,
	}
	execution := &domain.Execution{
		ExecutionID: newID("exec"),
		InstanceID:  instance.InstanceID,
		TaskID:      req.TaskID,
		StartedAt:   now,
	}

	if err := s.store.CreateInstance(ctx, instance, execution); err != nil {
		return nil, nil, storeErr(err)
	}

	s.recordLifecycle(ctx, execution, instance, domain.LifecyclePayload{
		To:    domain.InstanceStatusPending,
		Actor: actorOrchestrator,
	}, "instance created")

	return instance, execution, nil
}

// MarkRunning transitions pending -> running; any other source status is an
// invalid transition.
func (s *Service) MarkRunning(ctx context.Context, instanceID string) error {
	updated, err := s.store.UpdateInstanceStatus(ctx, instanceID, domain.InstanceStatusPending, domain.InstanceStatusRunning)
	if err != nil {
		return storeErr(err)
	}
	if updated {
		s.recordTransition(ctx, instanceID, domain.LifecyclePayload{
			From:  domain.InstanceStatusPending,
			To:    domain.InstanceStatusRunning,
			Actor: actorWorker,
		}, "instance running")
		return nil
	}

	instance, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return storeErr(err)
	}
	if instance == nil {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: cannot mark %s running from %s", domain.ErrInvalidTransition, instanceID, instance.Status)
}

// MarkTerminal transitions running -> {completed, failed, terminated}. The
// compare-and-swap means whichever of two concurrent callers commits first
// wins; the loser sees a no-op for an identical terminal write or
// ConflictingTransition for a different one.
func (s *Service) MarkTerminal(ctx context.Context, instanceID string, status domain.InstanceStatus, reason, actor string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", domain.ErrInvalidTransition, status)
	}
	if (status == domain.InstanceStatusFailed || status == domain.InstanceStatusTerminated) && reason == "" {
		return fmt.Errorf("%w: reason is required for %s", domain.ErrInvalidTransition, status)
	}
	if status == domain.InstanceStatusCompleted && reason != "" {
		return fmt.Errorf("%w: reason is only set on failed/terminated", domain.ErrInvalidTransition)
	}

	execution, err := s.store.GetExecutionByInstance(ctx, instanceID)
	if err != nil {
		return storeErr(err)
	}

	// The compare-and-swap shares the emission lock so a racing Emit either
	// commits before the transition or observes the terminal state.
	var lock *sync.Mutex
	if execution != nil {
		lock = s.execLock(execution.ExecutionID)
		lock.Lock()
	}
	updated, err := s.store.TerminateInstance(ctx, instanceID, status, reason)
	if lock != nil {
		lock.Unlock()
	}
	if err != nil {
		return storeErr(err)
	}
	if updated {
		if execution == nil {
			log.Printf("ERROR: no execution found for terminal instance %s", instanceID)
		} else {
			if _, err := s.store.CompleteExecution(ctx, execution.ExecutionID, outcomeFor(status), s.now()); err != nil {
				log.Printf("ERROR: failed to complete execution %s: %v", execution.ExecutionID, err)
			}
			s.recordLifecycle(ctx, execution, &domain.Instance{InstanceID: instanceID, TaskID: execution.TaskID}, domain.LifecyclePayload{
				From:   domain.InstanceStatusRunning,
				To:     status,
				Reason: reason,
				Actor:  actor,
			}, "instance "+string(status))
			s.dropExecLock(execution.ExecutionID)
		}
		return nil
	}

	// Lost the compare-and-swap; classify against the committed state.
	instance, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return storeErr(err)
	}
	if instance == nil {
		return domain.ErrNotFound
	}
	if instance.Status.IsTerminal() {
		if instance.Status == status && instance.TerminationReason == reason {
			return nil // idempotent repeat
		}
		return fmt.Errorf("%w: %s already %s (reason %q)", domain.ErrConflictingTransition,
			instanceID, instance.Status, instance.TerminationReason)
	}
	return fmt.Errorf("%w: cannot terminate %s from %s", domain.ErrInvalidTransition, instanceID, instance.Status)
}

func outcomeFor(status domain.InstanceStatus) domain.ExecutionOutcome {
	switch status {
	case domain.InstanceStatusCompleted:
		return domain.ExecutionOutcomeSucceeded
	case domain.InstanceStatusFailed:
		return domain.ExecutionOutcomeFailed
	default:
		return domain.ExecutionOutcomeTerminated
	}
}

// recordTransition emits a lifecycle entry for an instance, resolving its
// execution first. Telemetry failures never block a state transition.
func (s *Service) recordTransition(ctx context.Context, instanceID string, payload domain.LifecyclePayload, summary string) {
	execution, err := s.store.GetExecutionByInstance(ctx, instanceID)
	if err != nil || execution == nil {
		log.Printf("ERROR: failed to resolve execution for lifecycle entry on %s: %v", instanceID, err)
		return
	}
	instance := &domain.Instance{InstanceID: instanceID, TaskID: execution.TaskID}
	s.recordLifecycle(ctx, execution, instance, payload, summary)
}

func (s *Service) recordLifecycle(ctx context.Context, execution *domain.Execution, instance *domain.Instance, payload domain.LifecyclePayload, summary string) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: failed to marshal lifecycle payload: %v", err)
		return
	}
	if _, err := s.emit(ctx, domain.EmitRequest{
		ExecutionID: execution.ExecutionID,
		InstanceID:  instance.InstanceID,
		TaskID:      execution.TaskID,
		EntryType:   domain.EntryTypeLifecycle,
		Category:    "lifecycle",
		Summary:     summary,
		Payload:     body,
	}); err != nil {
		log.Printf("ERROR: failed to record lifecycle entry for %s: %v", instance.InstanceID, err)
	}
}

package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskforge/warden/internal/domain"
)

// Emit is the single legal write path for telemetry. It resolves the
// execution, takes the per-execution lock, verifies the owning instance is
// still live, assigns the next sequence, and commits durably before fanning
// the entry out to subscribers. The liveness check shares the lock with the
// terminal compare-and-swap in MarkTerminal, so no entry can commit behind a
// terminal transition.
func (s *Service) Emit(ctx context.Context, req domain.EmitRequest) (*domain.TranscriptEntry, error) {
	if req.ExecutionID == "" {
		return nil, fmt.Errorf("execution_id is required")
	}
	if req.EntryType == "" {
		return nil, fmt.Errorf("entry_type is required")
	}

	execution, err := s.store.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return nil, storeErr(err)
	}
	if execution == nil {
		return nil, domain.ErrNotFound
	}
	if req.InstanceID == "" {
		req.InstanceID = execution.InstanceID
	}
	if req.TaskID == "" {
		req.TaskID = execution.TaskID
	}

	lock := s.execLock(req.ExecutionID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := s.store.GetInstance(ctx, execution.InstanceID)
	if err != nil {
		return nil, storeErr(err)
	}
	if instance == nil {
		return nil, domain.ErrNotFound
	}
	if instance.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrInstanceTerminated, instance.InstanceID, instance.Status)
	}

	return s.emitLocked(ctx, req)
}

// emit commits an entry without the terminal-instance check. The supervisor
// uses it directly for its own lifecycle entries, which legitimately follow
// a terminal transition.
func (s *Service) emit(ctx context.Context, req domain.EmitRequest) (*domain.TranscriptEntry, error) {
	lock := s.execLock(req.ExecutionID)
	lock.Lock()
	defer lock.Unlock()
	return s.emitLocked(ctx, req)
}

func (s *Service) emitLocked(ctx context.Context, req domain.EmitRequest) (*domain.TranscriptEntry, error) {
	writeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	entry := &domain.TranscriptEntry{
		EntryID:       newID("ent"),
		ExecutionID:   req.ExecutionID,
		InstanceID:    req.InstanceID,
		TaskID:        req.TaskID,
		EntryType:     req.EntryType,
		Category:      req.Category,
		Summary:       req.Summary,
		Payload:       req.Payload,
		DroppedBefore: req.DroppedBefore,
		CommittedAt:   s.now(),
	}

	if err := s.store.CreateEntry(writeCtx, entry); err != nil {
		return nil, storeErr(err)
	}

	// Publish after the durable commit, still under the execution lock, so
	// per-subscriber ordering matches sequence order.
	if s.hub != nil {
		s.hub.Publish(entry)
	}
	return entry, nil
}

// execLock returns the per-execution mutex, creating one if needed.
func (s *Service) execLock(executionID string) *sync.Mutex {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if lock, ok := s.emitLocks[executionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.emitLocks[executionID] = lock
	return lock
}

// dropExecLock discards the per-execution mutex once the execution can no
// longer accept telemetry.
func (s *Service) dropExecLock(executionID string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	delete(s.emitLocks, executionID)
}

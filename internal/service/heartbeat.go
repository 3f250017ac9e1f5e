package service

import (
	"context"
	"fmt"
	"time"

	"github.com/taskforge/warden/internal/domain"
)

// Heartbeat records a liveness signal. The first heartbeat of a pending
// instance performs the pending -> running transition. Backwards clock
// updates are no-ops; heartbeats against a terminal instance return
// ErrInstanceTerminated, which is a recoverable no-op for a worker's own
// shutdown path.
func (s *Service) Heartbeat(ctx context.Context, instanceID string, ts time.Time) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	instance, err := s.store.GetInstance(writeCtx, instanceID)
	if err != nil {
		return storeErr(err)
	}
	if instance == nil {
		return domain.ErrNotFound
	}
	if instance.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrInstanceTerminated, instanceID, instance.Status)
	}

	if instance.Status == domain.InstanceStatusPending {
		if err := s.MarkRunning(writeCtx, instanceID); err != nil {
			// A concurrent first heartbeat may have won the transition; only
			// a terminal race is a real failure.
			current, getErr := s.store.GetInstance(writeCtx, instanceID)
			if getErr != nil {
				return storeErr(getErr)
			}
			if current == nil || current.Status != domain.InstanceStatusRunning {
				if current != nil && current.Status.IsTerminal() {
					return fmt.Errorf("%w: %s is %s", domain.ErrInstanceTerminated, instanceID, current.Status)
				}
				return err
			}
		}
	}

	// The guarded update rejects backwards timestamps and lost races against
	// a terminal transition; both are no-ops for the caller.
	if _, err := s.store.UpdateHeartbeat(writeCtx, instanceID, ts); err != nil {
		return storeErr(err)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/taskforge/warden/internal/domain"
	"github.com/taskforge/warden/internal/policy"
)

// ProcessKiller is the best-effort interface to the external process handle.
// The registry transition is authoritative; a check that hangs or lies must
// never gate it.
type ProcessKiller interface {
	Alive(pid int) bool
	Kill(pid int) error
}

type osProcessKiller struct{}

func (k *osProcessKiller) Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

func (k *osProcessKiller) Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGKILL)
}

// RunReaper runs the liveness sweep on a fixed period until the context is
// cancelled. Sweeps are idempotent, so overlap with a slow previous sweep or
// a restarted supervisor causes no double effects.
func (s *Service) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(s.config.ReaperTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStale(ctx)
		}
	}
}

// sweepStale demotes every running instance whose heartbeat, or startup when
// it never heartbeated, is older than the configured timeout to
// terminated/stale_heartbeat.
func (s *Service) sweepStale(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*s.config.StoreTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.config.StaleTimeout())
	stale, err := s.store.ListStaleInstances(sweepCtx, cutoff, 100)
	if err != nil {
		s.recordSweepFailure(err)
		return
	}
	s.recordSweepSuccess()

	for _, instance := range stale {
		s.reapInstance(sweepCtx, instance)
	}
}

func (s *Service) reapInstance(ctx context.Context, instance domain.Instance) {
	staleFor := s.now().Sub(instance.StartedAt)
	if instance.LastHeartbeatAt != nil {
		staleFor = s.now().Sub(*instance.LastHeartbeatAt)
	}

	decision := policy.DecisionTerminate
	if s.policyEngine != nil {
		d, err := s.policyEngine.Evaluate(ctx, policy.Input{
			InstanceID: instance.InstanceID,
			TaskListID: instance.TaskListID,
			StaleForMs: staleFor.Milliseconds(),
			HasPID:     instance.PID != nil,
		})
		if err != nil {
			log.Printf("WARN: reap policy evaluation failed for %s: %v", instance.InstanceID, err)
		}
		decision = d
	}
	if decision == policy.DecisionSkip {
		return
	}

	// Best-effort process termination. The state transition below proceeds
	// regardless of the signal outcome.
	if decision == policy.DecisionKillTerminate && instance.PID != nil {
		if s.killer.Alive(*instance.PID) {
			log.Printf("INFO: stale instance %s process %d still alive, signalling", instance.InstanceID, *instance.PID)
			if err := s.killer.Kill(*instance.PID); err != nil {
				log.Printf("WARN: failed to signal process %d: %v", *instance.PID, err)
			}
		}
	}

	err := s.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusTerminated, domain.TerminationReasonStale, actorReaper)
	switch {
	case err == nil:
		log.Printf("INFO: reaped instance %s (stale for %s)", instance.InstanceID, staleFor)
	case errors.Is(err, domain.ErrConflictingTransition), errors.Is(err, domain.ErrInvalidTransition):
		// Lost the race to a graceful completion or an earlier sweep.
	default:
		log.Printf("WARN: failed to reap instance %s: %v", instance.InstanceID, err)
	}
}

func (s *Service) recordSweepFailure(err error) {
	s.reaperMu.Lock()
	s.reaperFailures++
	failures := s.reaperFailures
	s.reaperMu.Unlock()

	log.Printf("WARN: reaper sweep failed (%d consecutive): %v", failures, err)
	if failures == s.config.ReaperAlertThreshold {
		log.Printf("ALERT: reaper has failed %d consecutive sweeps", failures)
	}
}

func (s *Service) recordSweepSuccess() {
	s.reaperMu.Lock()
	s.reaperFailures = 0
	s.reaperMu.Unlock()
}

// ReaperAlert reports whether the reaper has failed enough consecutive
// sweeps to warrant an operational alert. Exposed on the health endpoint.
func (s *Service) ReaperAlert() (int, bool) {
	s.reaperMu.Lock()
	defer s.reaperMu.Unlock()
	return s.reaperFailures, s.reaperFailures >= s.config.ReaperAlertThreshold
}

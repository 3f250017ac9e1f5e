package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskforge/warden/internal/domain"
)

func TestCreateInstanceStartsPending(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	instance, execution, err := svc.CreateInstance(ctx, domain.CreateInstanceRequest{
		TaskID:     "task-1",
		TaskListID: "list-1",
	})
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if instance.Status != domain.InstanceStatusPending {
		t.Fatalf("expected pending, got %s", instance.Status)
	}
	if execution.InstanceID != instance.InstanceID {
		t.Fatalf("execution not bound to instance: %+v", execution)
	}

	// Registration is recorded on the transcript.
	entries, err := svc.GetTranscript(ctx, execution.ExecutionID, 0, 0)
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if len(entries) != 1 || entries[0].EntryType != domain.EntryTypeLifecycle {
		t.Fatalf("expected one lifecycle entry, got %+v", entries)
	}
}

func TestCreateInstanceValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, _, err := svc.CreateInstance(ctx, domain.CreateInstanceRequest{TaskListID: "list-1"}); err == nil {
		t.Fatal("expected error for missing task_id")
	}
	if _, _, err := svc.CreateInstance(ctx, domain.CreateInstanceRequest{TaskID: "task-1"}); err == nil {
		t.Fatal("expected error for missing task_list_id")
	}
}

func TestMarkTerminalCompleted(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	instance, execution := createRunning(t, svc, time.Now())

	if err := svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusCompleted, "", actorWorker); err != nil {
		t.Fatalf("MarkTerminal failed: %v", err)
	}

	status, err := svc.EffectiveStatus(ctx, instance.InstanceID)
	if err != nil {
		t.Fatalf("EffectiveStatus failed: %v", err)
	}
	if status.Status != domain.InstanceStatusCompleted {
		t.Fatalf("expected completed, got %s", status.Status)
	}

	got, err := svc.GetExecution(ctx, execution.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if got.Outcome != domain.ExecutionOutcomeSucceeded || got.CompletedAt == nil {
		t.Fatalf("execution not completed: %+v", got)
	}
}

func TestMarkTerminalReasonRules(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	instance, _ := createRunning(t, svc, time.Now())

	// failed/terminated require a reason, completed forbids one.
	err := svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusFailed, "", actorWorker)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition for failed without reason, got %v", err)
	}
	err = svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusCompleted, "extra", actorWorker)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition for completed with reason, got %v", err)
	}
	err = svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusRunning, "", actorWorker)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition for non-terminal target, got %v", err)
	}
}

func TestMarkTerminalFromPendingRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	instance, _, err := svc.CreateInstance(ctx, domain.CreateInstanceRequest{
		TaskID:     "task-1",
		TaskListID: "list-1",
	})
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	err = svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusCompleted, "", actorWorker)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition from pending, got %v", err)
	}
}

func TestMarkTerminalIdempotentRepeat(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	instance, _ := createRunning(t, svc, time.Now())

	if err := svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusFailed, "exit 1", actorWorker); err != nil {
		t.Fatalf("MarkTerminal failed: %v", err)
	}
	// Same status and reason again is a silent no-op.
	if err := svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusFailed, "exit 1", actorWorker); err != nil {
		t.Fatalf("expected idempotent repeat, got %v", err)
	}
	// Different terminal write reports the conflict.
	err := svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusTerminated, domain.TerminationReasonStale, actorReaper)
	if !errors.Is(err, domain.ErrConflictingTransition) {
		t.Fatalf("expected ConflictingTransition, got %v", err)
	}
}

func TestMarkTerminalNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	err := svc.MarkTerminal(ctx, "no-such", domain.InstanceStatusCompleted, "", actorWorker)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestMarkTerminalConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	instance, _ := createRunning(t, svc, time.Now())

	const goroutines = 8
	results := make([]error, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				results[n] = svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusCompleted, "", actorWorker)
			} else {
				results[n] = svc.MarkTerminal(ctx, instance.InstanceID, domain.InstanceStatusTerminated, domain.TerminationReasonStale, actorReaper)
			}
		}(i)
	}
	wg.Wait()

	status, err := svc.EffectiveStatus(ctx, instance.InstanceID)
	if err != nil {
		t.Fatalf("EffectiveStatus failed: %v", err)
	}
	if !status.Status.IsTerminal() {
		t.Fatalf("expected terminal status, got %s", status.Status)
	}

	// Every caller saw success (winner or identical repeat) or a clean
	// conflict; never a corrupted state.
	for i, res := range results {
		if res != nil && !errors.Is(res, domain.ErrConflictingTransition) {
			t.Fatalf("goroutine %d: unexpected error %v", i, res)
		}
	}
	if status.Status == domain.InstanceStatusCompleted && status.TerminationReason != "" {
		t.Fatalf("completed with reason: %+v", status)
	}
	if status.Status == domain.InstanceStatusTerminated && status.TerminationReason != domain.TerminationReasonStale {
		t.Fatalf("terminated without reason: %+v", status)
	}
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/taskforge/warden/internal/config"
	"github.com/taskforge/warden/internal/domain"
	"github.com/taskforge/warden/internal/policy"
	"github.com/taskforge/warden/internal/stream"
	"github.com/taskforge/warden/tests/helpers"
)

func testConfig() *config.Config {
	return &config.Config{
		HeartbeatInterval:    100 * time.Millisecond,
		StaleMultiplier:      3,
		ReaperTick:           50 * time.Millisecond,
		ReaperAlertThreshold: 5,
		StoreTimeout:         time.Second,
		EmitQueueSize:        16,
		RetentionWindow:      24 * time.Hour,
		ArchiveSchedule:      "0 3 * * *",
	}
}

// fakeKiller records kill attempts without touching real processes.
type fakeKiller struct {
	mu     sync.Mutex
	alive  map[int]bool
	killed []int
}

func newFakeKiller() *fakeKiller {
	return &fakeKiller{alive: make(map[int]bool)}
}

func (k *fakeKiller) Alive(pid int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.alive[pid]
}

func (k *fakeKiller) Kill(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.killed = append(k.killed, pid)
	k.alive[pid] = false
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeKiller) {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	killer := newFakeKiller()
	svc := New(db, stream.NewHub(16), testConfig(), policyEngine, killer)
	return svc, killer
}

// createRunning registers an instance and heartbeats it into running.
func createRunning(t *testing.T, svc *Service, at time.Time) (*domain.Instance, *domain.Execution) {
	t.Helper()
	ctx := context.Background()
	pid := 4242
	instance, execution, err := svc.CreateInstance(ctx, domain.CreateInstanceRequest{
		TaskID:     "task-1",
		TaskListID: "list-1",
		PID:        &pid,
	})
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if err := svc.Heartbeat(ctx, instance.InstanceID, at); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	return instance, execution
}

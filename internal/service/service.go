// Package service implements the supervisor's core behavior: the instance
// registry state machine, heartbeat ingest, the event emission facade, the
// liveness reaper, and the reconciled state queries.
package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskforge/warden/internal/config"
	"github.com/taskforge/warden/internal/domain"
	"github.com/taskforge/warden/internal/policy"
	"github.com/taskforge/warden/internal/repository"
	"github.com/taskforge/warden/internal/stream"
)

type Service struct {
	store        repository.Store
	hub          *stream.Hub
	config       *config.Config
	policyEngine *policy.Engine
	killer       ProcessKiller

	// now is swapped in tests to drive liveness scenarios.
	now func() time.Time

	// emitLocks serializes the emission facade per execution; the sequence
	// counter is the only shared mutable resource needing exclusive-owner
	// discipline.
	emitMu    sync.Mutex
	emitLocks map[string]*sync.Mutex

	// reaperFailures counts consecutive failed sweeps for alerting.
	reaperMu       sync.Mutex
	reaperFailures int
}

func New(store repository.Store, hub *stream.Hub, cfg *config.Config, policyEngine *policy.Engine, killer ProcessKiller) *Service {
	if killer == nil {
		killer = &osProcessKiller{}
	}
	return &Service{
		store:        store,
		hub:          hub,
		config:       cfg,
		policyEngine: policyEngine,
		killer:       killer,
		now:          time.Now,
		emitLocks:    make(map[string]*sync.Mutex),
	}
}

// Hub exposes the fan-out hub to the transport layer for subscriptions.
func (s *Service) Hub() *stream.Hub {
	return s.hub
}

// Config exposes the liveness policy inputs served to workers.
func (s *Service) Config() *config.Config {
	return s.config
}

func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

// storeErr classifies a failed store write as StoreUnavailable so callers
// retry with backoff instead of dropping the write.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

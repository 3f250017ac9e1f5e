// Package stream provides fan-out of committed transcript entries to live
// subscribers.
package stream

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/taskforge/warden/internal/domain"
)

// Wildcard subscribes to entries from every execution.
const Wildcard = "*"

// Message is one item delivered to a subscriber: either a committed entry or
// a notice about the stream itself.
type Message struct {
	Entry  *domain.TranscriptEntry `json:"entry,omitempty"`
	Notice *domain.StreamNotice    `json:"notice,omitempty"`
}

// Subscriber is one registered consumer. Its channel is closed by the hub
// when the subscriber falls behind; Gapped reports whether entries were
// missed so the transport can send an explicit gap notice before closing.
type Subscriber struct {
	ID          string
	ExecutionID string

	ch     chan Message
	hub    *Hub
	gapped bool
	closed bool
}

// C returns the delivery channel. It is closed when the hub drops the
// subscriber.
func (s *Subscriber) C() <-chan Message {
	return s.ch
}

// Gapped reports whether the hub dropped entries for this subscriber before
// disconnecting it.
func (s *Subscriber) Gapped() bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.gapped
}

// Hub manages subscribers and fans out committed entries in commit order.
// Publish never blocks: a subscriber whose buffer is full is disconnected
// rather than allowed to stall emission.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]*Subscriber
	byTarget   map[string]map[string]bool // executionID (or Wildcard) -> sub IDs
	bufferSize int
}

// NewHub creates a new Hub. bufferSize is the per-subscriber channel depth.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		subs:       make(map[string]*Subscriber),
		byTarget:   make(map[string]map[string]bool),
		bufferSize: bufferSize,
	}
}

// Subscribe registers interest in an execution ID, or all executions with
// Wildcard.
func (h *Hub) Subscribe(executionID string) *Subscriber {
	if executionID == "" {
		executionID = Wildcard
	}
	sub := &Subscriber{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		ch:          make(chan Message, h.bufferSize),
		hub:         h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub.ID] = sub
	if h.byTarget[executionID] == nil {
		h.byTarget[executionID] = make(map[string]bool)
	}
	h.byTarget[executionID][sub.ID] = true
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Publish delivers a committed entry to every matching subscriber. The
// caller (the emission facade) serializes per execution, so per-subscriber
// ordering matches global sequence order for the execution.
func (h *Hub) Publish(entry *domain.TranscriptEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.deliverLocked(entry.ExecutionID, entry)
	h.deliverLocked(Wildcard, entry)
}

func (h *Hub) deliverLocked(target string, entry *domain.TranscriptEntry) {
	subIDs, ok := h.byTarget[target]
	if !ok {
		return
	}
	for subID := range subIDs {
		sub, exists := h.subs[subID]
		if !exists {
			continue
		}
		select {
		case sub.ch <- Message{Entry: entry}:
		default:
			// Buffer full: disconnect rather than block emit.
			log.Printf("WARN: subscriber %s (execution %s) fell behind, disconnecting", sub.ID, sub.ExecutionID)
			sub.gapped = true
			h.removeLocked(sub)
		}
	}
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub.ID)
	if targets, ok := h.byTarget[sub.ExecutionID]; ok {
		delete(targets, sub.ID)
		if len(targets) == 0 {
			delete(h.byTarget, sub.ExecutionID)
		}
	}
	close(sub.ch)
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

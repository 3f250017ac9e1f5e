package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/taskforge/warden/internal/domain"
)

func entry(executionID string, seq int64) *domain.TranscriptEntry {
	return &domain.TranscriptEntry{
		EntryID:     fmt.Sprintf("e%d", seq),
		ExecutionID: executionID,
		Sequence:    seq,
		EntryType:   domain.EntryTypeError,
		CommittedAt: time.Now(),
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := NewHub(16)
	sub := hub.Subscribe("exec-1")
	defer hub.Unsubscribe(sub)

	for i := int64(1); i <= 5; i++ {
		hub.Publish(entry("exec-1", i))
	}

	for i := int64(1); i <= 5; i++ {
		select {
		case msg := <-sub.C():
			if msg.Entry.Sequence != i {
				t.Fatalf("expected sequence %d, got %d", i, msg.Entry.Sequence)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for sequence %d", i)
		}
	}
}

func TestHubFiltersByExecution(t *testing.T) {
	hub := NewHub(16)
	sub := hub.Subscribe("exec-1")
	defer hub.Unsubscribe(sub)

	hub.Publish(entry("exec-2", 1))
	hub.Publish(entry("exec-1", 1))

	select {
	case msg := <-sub.C():
		if msg.Entry.ExecutionID != "exec-1" {
			t.Fatalf("received entry for wrong execution: %+v", msg.Entry)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
	}
}

func TestHubWildcardSeesAllExecutions(t *testing.T) {
	hub := NewHub(16)
	sub := hub.Subscribe(Wildcard)
	defer hub.Unsubscribe(sub)

	hub.Publish(entry("exec-1", 1))
	hub.Publish(entry("exec-2", 1))

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.C():
			seen[msg.Entry.ExecutionID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for entries")
		}
	}
	if !seen["exec-1"] || !seen["exec-2"] {
		t.Fatalf("wildcard missed executions: %v", seen)
	}
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	hub := NewHub(2)
	slow := hub.Subscribe("exec-1")

	// Never read: the third publish overflows the buffer and the hub drops
	// the subscriber instead of blocking.
	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 3; i++ {
			hub.Publish(entry("exec-1", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if hub.SubscriberCount() != 0 {
		t.Fatalf("expected slow subscriber removed, count=%d", hub.SubscriberCount())
	}
	if !slow.Gapped() {
		t.Fatal("expected gap flag on dropped subscriber")
	}

	// The channel is closed so the transport can observe the drop.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-slow.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel never closed")
		}
	}
}

func TestHubUnsubscribeIdempotent(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe("exec-1")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	if hub.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.SubscriberCount())
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	hub.Publish(entry("exec-1", 1))
}

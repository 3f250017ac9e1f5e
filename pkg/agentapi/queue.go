package agentapi

import "sync"

// emitQueue is a bounded FIFO of entries that could not be delivered. When
// full, the oldest entry is evicted and counted so the gap stays visible on
// the transcript via dropped_before.
type emitQueue struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
	dropped int
}

func newEmitQueue(capacity int) *emitQueue {
	return &emitQueue{cap: capacity}
}

func (q *emitQueue) push(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.cap {
		q.entries = q.entries[1:]
		q.dropped++
	}
	q.entries = append(q.entries, e)
}

func (q *emitQueue) peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

func (q *emitQueue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) > 0 {
		q.entries = q.entries[1:]
	}
}

func (q *emitQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// takeDropped returns and resets the overflow count.
func (q *emitQueue) takeDropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.dropped
	q.dropped = 0
	return n
}

func (q *emitQueue) addDropped(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropped += n
}

// Package agentapi is the client library worker processes embed to talk to
// the supervisor: heartbeats on the configured cadence, telemetry emission
// with retry/backoff and a bounded local queue, and graceful terminal
// reporting. Events are never silently dropped; a local-queue overflow is
// carried as an explicit dropped count on the next successful emit.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors mirroring the supervisor's error codes.
var (
	// ErrTerminated means the instance already reached a terminal state. It
	// is a recoverable no-op for a worker's own shutdown path.
	ErrTerminated = errors.New("instance terminated")

	// ErrUnavailable means the supervisor's store could not commit the write;
	// the client retries with backoff and queues on exhaustion.
	ErrUnavailable = errors.New("supervisor unavailable")
)

func isRetryable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, ErrTerminated) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout")
}

// Entry is one telemetry event to emit. Sequence is assigned by the
// supervisor, never by the worker.
type Entry struct {
	EntryType string          `json:"entry_type"`
	Category  string          `json:"category,omitempty"`
	Summary   string          `json:"summary"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Config configures a worker client. Interval must match the supervisor's
// configured heartbeat interval; it is a policy input, not a constant.
type Config struct {
	BaseURL     string
	InstanceID  string
	ExecutionID string
	TaskID      string
	Interval    time.Duration
	Retry       *RetryPolicy
	QueueSize   int
	HTTPTimeout time.Duration
}

// Client talks to the supervisor's worker-facing API.
type Client struct {
	cfg        Config
	httpClient *http.Client

	queue *emitQueue
}

// NewClient creates a worker client.
func NewClient(cfg Config) *Client {
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		queue:      newEmitQueue(cfg.QueueSize),
	}
}

// Run sends heartbeats on the configured cadence until the context is
// cancelled. Terminated means the supervisor (or the reaper) closed this
// instance; the loop exits cleanly.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	if err := c.Heartbeat(ctx); err != nil {
		if errors.Is(err, ErrTerminated) {
			return nil
		}
		log.Printf("WARN: initial heartbeat failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				if errors.Is(err, ErrTerminated) {
					return nil
				}
				log.Printf("WARN: heartbeat failed: %v", err)
			}
		}
	}
}

// Heartbeat sends a single liveness signal with the current wall clock.
func (c *Client) Heartbeat(ctx context.Context) error {
	body := map[string]int64{"ts": time.Now().UnixMilli()}
	path := fmt.Sprintf("/v1/instances/%s/heartbeat", c.cfg.InstanceID)
	return c.cfg.Retry.Execute(ctx, func() error {
		return c.post(ctx, path, body, nil)
	})
}

// Emit sends a telemetry entry. Previously queued entries are flushed first
// to preserve order. When every retry fails the entry joins the local queue
// rather than being dropped; a queue overflow is surfaced as dropped_before
// on the next entry that does commit.
func (c *Client) Emit(ctx context.Context, entry Entry) error {
	c.flush(ctx)

	if err := c.send(ctx, entry, c.queue.takeDropped()); err != nil {
		if errors.Is(err, ErrTerminated) {
			return err
		}
		c.queue.push(entry)
		return fmt.Errorf("emit queued after retries: %w", err)
	}
	return nil
}

// MarkTerminal reports graceful completion or failure. A terminal state
// already set (for example by the reaper) is treated as success for the
// worker's own shutdown path.
func (c *Client) MarkTerminal(ctx context.Context, status, reason string) error {
	body := map[string]string{"status": status}
	if reason != "" {
		body["reason"] = reason
	}
	path := fmt.Sprintf("/v1/instances/%s/terminal", c.cfg.InstanceID)
	err := c.cfg.Retry.Execute(ctx, func() error {
		return c.post(ctx, path, body, nil)
	})
	if errors.Is(err, ErrTerminated) {
		return nil
	}
	return err
}

// QueuedEntries reports the local queue depth, for worker-side diagnostics.
func (c *Client) QueuedEntries() int {
	return c.queue.len()
}

// flush drains the local queue in order, stopping at the first failure.
func (c *Client) flush(ctx context.Context) {
	for {
		entry, ok := c.queue.peek()
		if !ok {
			return
		}
		if err := c.send(ctx, entry, c.queue.takeDropped()); err != nil {
			if errors.Is(err, ErrTerminated) {
				// Nothing more will ever be accepted; keep the queue for
				// post-mortem inspection.
				return
			}
			return
		}
		c.queue.pop()
	}
}

func (c *Client) send(ctx context.Context, entry Entry, droppedBefore int) error {
	body := map[string]interface{}{
		"instance_id": c.cfg.InstanceID,
		"task_id":     c.cfg.TaskID,
		"entry_type":  entry.EntryType,
		"category":    entry.Category,
		"summary":     entry.Summary,
	}
	if entry.Payload != nil {
		body["payload"] = entry.Payload
	}
	if droppedBefore > 0 {
		body["dropped_before"] = droppedBefore
	}
	path := fmt.Sprintf("/v1/executions/%s/entries", c.cfg.ExecutionID)
	err := c.cfg.Retry.Execute(ctx, func() error {
		return c.post(ctx, path, body, nil)
	})
	if err != nil && droppedBefore > 0 {
		// The dropped count was not delivered; restore it for the next try.
		c.queue.addDropped(droppedBefore)
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	case resp.StatusCode == http.StatusGone:
		return ErrTerminated
	case resp.StatusCode == http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		var errBody struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Error.Code != "" {
			return fmt.Errorf("supervisor returned %d: %s (%s)", resp.StatusCode, errBody.Error.Message, errBody.Error.Code)
		}
		return fmt.Errorf("supervisor returned %d", resp.StatusCode)
	}
}

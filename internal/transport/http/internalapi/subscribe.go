package internalapi

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/taskforge/warden/internal/domain"
	"github.com/taskforge/warden/internal/stream"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Subscribe streams committed entries for an execution over a WebSocket:
// replay from from_sequence first, then live entries in commit order. A
// subscriber that cannot keep up is disconnected with an explicit gap notice
// rather than allowed to stall emission.
// GET /internal/executions/:execution_id/subscribe?from_sequence=
func (h *Handler) Subscribe(c echo.Context) error {
	executionID := c.Param("execution_id")

	execution, err := h.service.GetExecution(c.Request().Context(), executionID)
	if err != nil {
		return errorJSON(c, err)
	}
	if execution == nil {
		return errorJSON(c, domain.ErrNotFound)
	}

	var fromSequence int64 = 1
	if from := c.QueryParam("from_sequence"); from != "" {
		n, err := strconv.ParseInt(from, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid from_sequence"})
		}
		fromSequence = n
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: failed to upgrade websocket: %v", err)
		return err
	}
	defer ws.Close()

	// Register before replay so no entry committed during replay is missed;
	// duplicates are filtered by sequence below.
	sub := h.service.Hub().Subscribe(executionID)
	defer h.service.Hub().Unsubscribe(sub)

	var lastSeq int64
	entries, err := h.service.GetTranscript(c.Request().Context(), executionID, fromSequence, 0)
	if err != nil {
		writeMessage(ws, stream.Message{Notice: &domain.StreamNotice{Notice: "gap", ExecutionID: executionID}})
		return nil
	}
	for i := range entries {
		if err := writeMessage(ws, stream.Message{Entry: &entries[i]}); err != nil {
			return nil
		}
		lastSeq = entries[i].Sequence
	}
	if err := writeMessage(ws, stream.Message{Notice: &domain.StreamNotice{
		Notice:       "replay_complete",
		ExecutionID:  executionID,
		LastSequence: lastSeq,
	}}); err != nil {
		return nil
	}

	// Drain reads so close frames are processed; writes stop when the client
	// goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}

		case msg, ok := <-sub.C():
			if !ok {
				// Hub dropped us for falling behind.
				if sub.Gapped() {
					writeMessage(ws, stream.Message{Notice: &domain.StreamNotice{
						Notice:       "gap",
						ExecutionID:  executionID,
						LastSequence: lastSeq,
					}})
				}
				return nil
			}
			if msg.Entry != nil {
				if msg.Entry.Sequence <= lastSeq {
					continue // already delivered during replay
				}
				lastSeq = msg.Entry.Sequence
			}
			if err := writeMessage(ws, msg); err != nil {
				return nil
			}
		}
	}
}

func writeMessage(ws *websocket.Conn, msg stream.Message) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(msg)
}

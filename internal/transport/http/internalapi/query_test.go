package internalapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/taskforge/warden/internal/config"
	"github.com/taskforge/warden/internal/domain"
	"github.com/taskforge/warden/internal/policy"
	"github.com/taskforge/warden/internal/service"
	"github.com/taskforge/warden/internal/stream"
	"github.com/taskforge/warden/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *service.Service) {
	t.Helper()
	cfg := &config.Config{
		HeartbeatInterval:    100 * time.Millisecond,
		StaleMultiplier:      3,
		ReaperAlertThreshold: 5,
		StoreTimeout:         time.Second,
		EmitQueueSize:        16,
	}
	db := helpers.NewTestSQLiteStore(t)
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	svc := service.New(db, stream.NewHub(16), cfg, policyEngine, nil)
	return NewHandler(svc), svc
}

func seedInstance(t *testing.T, svc *service.Service) (*domain.Instance, *domain.Execution) {
	t.Helper()
	ctx := context.Background()
	instance, execution, err := svc.CreateInstance(ctx, domain.CreateInstanceRequest{
		TaskID:     "task-1",
		TaskListID: "list-1",
	})
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if err := svc.Heartbeat(ctx, instance.InstanceID, time.Now()); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	return instance, execution
}

func TestEffectiveStatusFound(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	instance, _ := seedInstance(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/internal/instances/:instance_id/status")
	c.SetParamNames("instance_id")
	c.SetParamValues(instance.InstanceID)

	if err := h.EffectiveStatus(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status domain.EffectiveStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !status.Found || status.Status != domain.InstanceStatusRunning {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestEffectiveStatusMissing(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("instance_id")
	c.SetParamValues("no-such")

	if err := h.EffectiveStatus(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	// The 404 still carries a well-formed body, not an opaque error.
	var status domain.EffectiveStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if status.Found || status.InstanceID != "no-such" {
		t.Fatalf("unexpected body: %+v", status)
	}
}

func TestListInstancesFilter(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	seedInstance(t, svc)
	seedInstance(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/?status=running&task_list_id=list-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListInstances(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Instances []domain.InstanceView `json:"instances"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(body.Instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(body.Instances))
	}

	// No match on the filter yields an empty listing, not an error.
	req = httptest.NewRequest(http.MethodGet, "/?task_list_id=other", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	if err := h.ListInstances(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetTranscriptResume(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	_, execution := seedInstance(t, svc)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Emit(ctx, domain.EmitRequest{
			ExecutionID: execution.ExecutionID,
			EntryType:   domain.EntryTypeError,
			Summary:     "event",
		}); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/?from_sequence=3", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("execution_id")
	c.SetParamValues(execution.ExecutionID)

	if err := h.GetTranscript(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Entries []domain.TranscriptEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, entry := range body.Entries {
		if entry.Sequence < 3 {
			t.Fatalf("entry below from_sequence returned: %+v", entry)
		}
	}
	if len(body.Entries) == 0 {
		t.Fatal("expected entries at or above from_sequence")
	}
}

func TestGetTranscriptUnknownExecution(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("execution_id")
	c.SetParamValues("no-such")

	if err := h.GetTranscript(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestProjectionEndpoints(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	_, execution := seedInstance(t, svc)

	ctx := context.Background()
	toolPayload, _ := json.Marshal(domain.ToolUsePayload{ToolName: "go-test", DurationMs: 1500})
	if _, err := svc.Emit(ctx, domain.EmitRequest{
		ExecutionID: execution.ExecutionID,
		EntryType:   domain.EntryTypeToolUse,
		Summary:     "ran tests",
		Payload:     toolPayload,
	}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	assertPayload, _ := json.Marshal(domain.AssertionPayload{Name: "unit", Passed: false, Detail: "2 failures"})
	if _, err := svc.Emit(ctx, domain.EmitRequest{
		ExecutionID: execution.ExecutionID,
		EntryType:   domain.EntryTypeAssertion,
		Summary:     "unit failed",
		Payload:     assertPayload,
	}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("execution_id")
	c.SetParamValues(execution.ExecutionID)
	if err := h.ListToolUses(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var toolBody struct {
		ToolUses []domain.ToolUse `json:"tool_uses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &toolBody); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(toolBody.ToolUses) != 1 || toolBody.ToolUses[0].ToolName != "go-test" {
		t.Fatalf("unexpected tool uses: %+v", toolBody.ToolUses)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("execution_id")
	c.SetParamValues(execution.ExecutionID)
	if err := h.ListAssertions(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var assertBody struct {
		Assertions []domain.AssertionResult `json:"assertions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &assertBody); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(assertBody.Assertions) != 1 || assertBody.Assertions[0].Passed {
		t.Fatalf("unexpected assertions: %+v", assertBody.Assertions)
	}
}

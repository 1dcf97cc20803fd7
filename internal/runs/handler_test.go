package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"techdoc-backend/internal/generate"
	"techdoc-backend/internal/llm"
	"techdoc-backend/internal/shared/server/middleware"
)

func setupRunRouter(t *testing.T) (*gin.Engine, *Handler, *Service, *MemoryRepo, *scriptedClient) {
	t.Helper()
	client := &scriptedClient{}
	svc, repo, _ := setupService(t, client)
	handler := NewHandler(svc)
	// Polling throttles are exercised by their own test.
	handler.Poll = newPollLimiter(time.Nanosecond, nil)

	router := gin.New()
	router.Use(middleware.Auth(""))
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	return router, handler, svc, repo, client
}

type errorEnvelope struct {
	Error struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Details []map[string]string `json:"details"`
	} `json:"error"`
}

func TestCreateRunAndDownloadDocument(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _, repo, _ := setupRunRouter(t)

	payload := map[string]string{
		"title":   "Inventory System",
		"srsText": "The system shall track stock levels across warehouses.",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}

	var created struct {
		RunID  string `json:"runId"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.RunID == "" {
		t.Fatalf("expected runId, got empty")
	}
	if created.Status != StatusQueued {
		t.Fatalf("expected status queued, got %q", created.Status)
	}

	waitForStatus(t, repo, created.RunID, StatusCompleted)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+created.RunID+"/document", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("expected markdown content type, got %q", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != `attachment; filename="inventory-system.md"` {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	doc := resp.Body.String()
	if !strings.Contains(doc, "# Inventory System - Technical Documentation") {
		t.Fatalf("expected document header, got:\n%s", doc)
	}
	if !strings.Contains(doc, "# Technical Requirements") {
		t.Fatalf("expected requirements section, got:\n%s", doc)
	}
}

func TestCreateRunRejectsMissingSource(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _, repo, _ := setupRunRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"title":"No Source"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	var envelope errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if envelope.Error.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", envelope.Error.Code)
	}
	if len(envelope.Error.Details) != 1 || envelope.Error.Details[0]["issue"] != "required" {
		t.Fatalf("unexpected details %+v", envelope.Error.Details)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d", resp.Code)
	}

	if runs, err := repo.List(context.Background(), 10, 0); err != nil || len(runs) != 0 {
		t.Fatalf("expected no runs persisted, got %d (err %v)", len(runs), err)
	}
}

func TestGetRunEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, svc, repo, _ := setupRunRouter(t)
	run := queueRun(t, svc, repo, "Inventory System", "an srs body")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var got struct {
		RunID    string `json:"runId"`
		Title    string `json:"title"`
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.RunID != run.ID || got.Title != "Inventory System" || got.Status != StatusQueued {
		t.Fatalf("unexpected run response %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/does-not-exist", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	var envelope errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", envelope.Error.Code)
	}
}

func TestGetRunPollLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, handler, svc, repo, _ := setupRunRouter(t)
	handler.Poll = newPollLimiter(time.Second, nil)
	run := queueRun(t, svc, repo, "Inventory System", "an srs body")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected first poll to pass, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID, nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After 1, got %q", got)
	}
	var envelope errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if envelope.Error.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %q", envelope.Error.Code)
	}
}

func TestListRunsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _, repo, _ := setupRunRouter(t)
	now := time.Now().UTC()
	older := Run{ID: "run-older", Title: "First", Status: StatusFailed, SourceKey: "srs/run-older.txt", CreatedAt: now.Add(-2 * time.Hour)}
	newer := Run{ID: "run-newer", Title: "Second", Status: StatusQueued, SourceKey: "srs/run-newer.txt", CreatedAt: now.Add(-time.Hour)}
	if err := repo.Create(context.Background(), older); err != nil {
		t.Fatalf("create older: %v", err)
	}
	if err := repo.Create(context.Background(), newer); err != nil {
		t.Fatalf("create newer: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var items []struct {
		RunID  string `json:"runId"`
		Title  string `json:"title"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(items))
	}
	if items[0].RunID != "run-newer" || items[1].RunID != "run-older" {
		t.Fatalf("expected newest first, got %+v", items)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=1", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	items = nil
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode limited response: %v", err)
	}
	if len(items) != 1 || items[0].RunID != "run-newer" {
		t.Fatalf("expected limit to apply, got %+v", items)
	}
}

func TestDownloadDocumentNotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, svc, repo, _ := setupRunRouter(t)
	run := queueRun(t, svc, repo, "Inventory System", "an srs body")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID+"/document", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var envelope errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if envelope.Error.Code != "not_ready" {
		t.Fatalf("expected not_ready, got %q", envelope.Error.Code)
	}
	if len(envelope.Error.Details) != 1 || envelope.Error.Details[0]["issue"] != StatusQueued {
		t.Fatalf("unexpected details %+v", envelope.Error.Details)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/does-not-exist/document", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestResetRunEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, svc, repo, _ := setupRunRouter(t)
	run := queueRun(t, svc, repo, "Inventory System", "an srs body")
	code := ErrorCodeGeneration
	msg := "all sections failed"
	retryable := true
	if err := repo.UpdateStatusAndError(context.Background(), run.ID, StatusFailed, &code, &msg, &retryable, nil, nil); err != nil {
		t.Fatalf("seed failed run: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+run.ID+"/reset", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var requeued struct {
		RunID  string `json:"runId"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&requeued); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if requeued.Status != StatusQueued {
		t.Fatalf("expected status queued, got %q", requeued.Status)
	}

	waitForStatus(t, repo, run.ID, StatusCompleted)
}

func TestResetActiveRunConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, svc, repo, _ := setupRunRouter(t)
	run := queueRun(t, svc, repo, "Inventory System", "an srs body")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+run.ID+"/reset", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var envelope errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if envelope.Error.Code != "run_active" {
		t.Fatalf("expected run_active, got %q", envelope.Error.Code)
	}
}

func TestDeleteRunEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, svc, repo, _ := setupRunRouter(t)
	run := queueRun(t, svc, repo, "Inventory System", "an srs body")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/runs/"+run.ID, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/runs/"+run.ID, nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", resp.Code)
	}

	if _, err := repo.GetByID(context.Background(), run.ID); err == nil {
		t.Fatalf("expected run to be gone")
	}
}

func TestStreamEventsTerminalRunSendsSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _, repo, _ := setupRunRouter(t)
	run := Run{
		ID:        "run-done",
		Title:     "Inventory System",
		Status:    StatusCompleted,
		SourceKey: "srs/run-done.txt",
		Progress:  100,
		Message:   "Final documentation compiled successfully",
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID+"/events", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event stream content type, got %q", ct)
	}
	body := resp.Body.String()
	if strings.Count(body, "event:progress") != 1 {
		t.Fatalf("expected a single snapshot event, got:\n%s", body)
	}
	if !strings.Contains(body, `"stage":"snapshot"`) || !strings.Contains(body, `"status":"completed"`) {
		t.Fatalf("expected terminal snapshot, got:\n%s", body)
	}
}

func TestStreamEventsFollowsRunToCompletion(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, svc, repo, client := setupRunRouter(t)
	run := queueRun(t, svc, repo, "Inventory System", "an srs body")

	release := make(chan struct{})
	client.setFn(func(ctx context.Context, in llm.CompletionInput) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "Body for " + sectionOf(in.Prompt), nil
	})

	go svc.generateAsync(context.Background(), run.ID)

	deadline := time.Now().Add(3 * time.Second)
	for client.callCount() < generate.NumRoles && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if client.callCount() < generate.NumRoles {
		t.Fatalf("workers never started, calls = %d", client.callCount())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID+"/events", nil)
	resp := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		router.ServeHTTP(resp, req)
		close(done)
	}()

	// Let the stream attach before the workers finish.
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("stream never terminated")
	}

	body := resp.Body.String()
	if !strings.Contains(body, "event:progress") {
		t.Fatalf("expected progress events, got:\n%s", body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Fatalf("expected final snapshot with completed status, got:\n%s", body)
	}

	got, err := repo.GetByID(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != StatusCompleted || got.Progress != 100 {
		t.Fatalf("expected completed run, got %+v", got)
	}
}

func TestStreamEventsRunNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _, _, _ := setupRunRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/does-not-exist/events", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

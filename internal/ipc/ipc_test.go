package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/navihq/recovery-core/internal/autonomy"
	"github.com/navihq/recovery-core/internal/bus"
	"github.com/navihq/recovery-core/internal/domain"
	"github.com/navihq/recovery-core/internal/event"
	"github.com/navihq/recovery-core/internal/healing"
	"github.com/navihq/recovery-core/internal/ingest"
	"github.com/navihq/recovery-core/internal/store"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewDB(dbPath)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := bus.New()
	gate := autonomy.NewGate(b, 0.5)
	eng := healing.NewEngine(healing.NewAnalyzer(), healing.NewPlanner(), b, healing.EngineConfig{})
	eng.Store = &store.SessionMirror{DB: db, Repo: &store.SessionRepo{}}
	gate.Register(domain.TriggerCIFailure, eng.HandleCIFailure)

	pool := ingest.NewPool(event.NewClassifier(), gate, b, ingest.PoolConfig{Workers: 1})
	pool.Sink = &store.IngestLog{DB: db, Repo: &store.IngestEventRepo{}}
	t.Cleanup(pool.Stop)

	return &Handler{
		Pool:        pool,
		Healing:     eng,
		DB:          db,
		SessionRepo: &store.SessionRepo{},
		IngestRepo:  &store.IngestEventRepo{},
	}
}

func TestIngestEvent_Accepted(t *testing.T) {
	h := newTestHandler(t)
	body := `{"source":"ci","event_type":"ci_build_failed","external_id":"run-1","tags":{"branch":"main"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.IngestEvent(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp IngestResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.ExternalID != "run-1" {
		t.Errorf("external_id = %q, want run-1", resp.ExternalID)
	}
	if resp.EventType != domain.EventCIFailed {
		t.Errorf("event_type = %q, want ci_build_failed", resp.EventType)
	}
}

func TestIngestEvent_InvalidBody(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()

	h.IngestEvent(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestIngestEvent_MissingSource(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(`{"event_type":"push"}`))
	w := httptest.NewRecorder()

	h.IngestEvent(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestIngestEvent_PoolStopped(t *testing.T) {
	h := newTestHandler(t)
	h.Pool.Stop()

	body := `{"source":"ci","event_type":"ci_build_failed"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.IngestEvent(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestGetSession_LiveAndMissing(t *testing.T) {
	h := newTestHandler(t)

	sess := h.Healing.StartSession("pr-11")
	if _, err := h.Healing.AttemptRecovery(context.Background(), sess.ID, domain.CIPayload{
		Logs:   "SyntaxError: invalid syntax",
		Status: "failed",
	}, 0); err != nil {
		t.Fatalf("AttemptRecovery: %v", err)
	}

	srv := NewServer(h, ":0")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var view SessionView
	json.NewDecoder(w.Body).Decode(&view)
	if view.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want completed", view.Status)
	}
	if view.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", view.AttemptCount)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope", nil)
	w = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", w.Code)
	}
}

func TestGetSession_FallsBackToStore(t *testing.T) {
	h := newTestHandler(t)

	sess := h.Healing.StartSession("pr-12")
	if _, err := h.Healing.AttemptRecovery(context.Background(), sess.ID, domain.CIPayload{
		Logs:   "eslint: error Missing semicolon",
		Status: "failed",
	}, 0); err != nil {
		t.Fatalf("AttemptRecovery: %v", err)
	}

	// Evict from the arena; the persisted mirror must still serve it.
	h.Healing.CleanupExpired(-time.Hour)

	srv := NewServer(h, ":0")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from store fallback, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListIngestLog(t *testing.T) {
	h := newTestHandler(t)

	body := `{"source":"chat","event_type":"chat_message","external_id":"msg-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(body))
	h.IngestEvent(httptest.NewRecorder(), req)

	lreq := httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=5", nil)
	w := httptest.NewRecorder()
	h.ListIngestLog(w, lreq)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rows []store.IngestRow
	json.NewDecoder(w.Body).Decode(&rows)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].ExternalID != "msg-1" {
		t.Errorf("external_id = %q, want msg-1", rows[0].ExternalID)
	}
}

func TestListSessions_RequiresCorrelationID(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	w := httptest.NewRecorder()

	h.ListSessionsByCorrelation(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

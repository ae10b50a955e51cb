// Package ipc provides the HTTP surface for the recovery core.
package ipc

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/navihq/recovery-core/internal/domain"
	"github.com/navihq/recovery-core/internal/event"
	"github.com/navihq/recovery-core/internal/healing"
	"github.com/navihq/recovery-core/internal/ingest"
	"github.com/navihq/recovery-core/internal/store"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Pool        *ingest.Pool
	Healing     *healing.Engine
	DB          *sql.DB
	SessionRepo *store.SessionRepo
	IngestRepo  *store.IngestEventRepo
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// IngestResponse acknowledges an accepted raw event.
type IngestResponse struct {
	Source     domain.EventSource `json:"source"`
	EventType  domain.EventType   `json:"event_type"`
	ExternalID string             `json:"external_id"`
	QueueDepth int                `json:"queue_depth"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// IngestEvent handles POST /api/v1/events.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if raw.Source == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "source is required"})
		return
	}

	ev := event.Normalize(raw)
	if err := h.Pool.Enqueue(ev); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		Source:     ev.Source,
		EventType:  ev.Type,
		ExternalID: ev.ExternalID,
		QueueDepth: h.Pool.QueueDepth(),
	})
}

// ListIngestLog handles GET /api/v1/events?limit=N.
func (h *Handler) ListIngestLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	rows, err := h.IngestRepo.ListRecent(r.Context(), h.DB, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []store.IngestRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetSession handles GET /api/v1/sessions/{sessionID}. Live sessions are
// served from the healing engine's arena; terminal sessions that aged out
// of the arena fall back to the store.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	sess, err := h.Healing.GetSession(sessionID)
	if err == domain.ErrSessionNotFound && h.DB != nil {
		sess, err = h.SessionRepo.GetByID(r.Context(), h.DB, sessionID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

// GetSessionAttempts handles GET /api/v1/sessions/{sessionID}/attempts.
func (h *Handler) GetSessionAttempts(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	sess, err := h.Healing.GetSession(sessionID)
	if err == domain.ErrSessionNotFound && h.DB != nil {
		sess, err = h.SessionRepo.GetByID(r.Context(), h.DB, sessionID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	attempts := sess.Attempts
	if attempts == nil {
		attempts = []domain.HealingAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// ListSessionsByCorrelation handles GET /api/v1/sessions?correlation_id=X.
func (h *Handler) ListSessionsByCorrelation(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "correlation_id is required"})
		return
	}

	sessions, err := h.SessionRepo.ListByCorrelation(r.Context(), h.DB, correlationID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, sessionView(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// SessionView is the JSON shape of a session for API consumers.
type SessionView struct {
	ID             string                  `json:"id"`
	CorrelationID  string                  `json:"correlation_id"`
	Status         domain.SessionStatus    `json:"status"`
	MaxAttempts    int                     `json:"max_attempts"`
	TimeoutMinutes int                     `json:"timeout_minutes"`
	StartedAt      int64                   `json:"started_at"`
	EndedAt        int64                   `json:"ended_at,omitempty"`
	AttemptCount   int                     `json:"attempt_count"`
	Attempts       []domain.HealingAttempt `json:"attempts"`
}

func sessionView(sess *domain.HealingSession) SessionView {
	attempts := sess.Attempts
	if attempts == nil {
		attempts = []domain.HealingAttempt{}
	}
	return SessionView{
		ID:             sess.ID,
		CorrelationID:  sess.CorrelationID,
		Status:         sess.Status,
		MaxAttempts:    sess.MaxAttempts,
		TimeoutMinutes: sess.TimeoutMinutes,
		StartedAt:      sess.StartedAtUnix,
		EndedAt:        sess.EndedAtUnix,
		AttemptCount:   len(attempts),
		Attempts:       attempts,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var coreErr *domain.CoreError
	if errors.As(err, &coreErr) {
		status := http.StatusInternalServerError
		switch coreErr.Code {
		case domain.ErrSessionNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrPoolStopped.Code:
			status = http.StatusServiceUnavailable
		case domain.ErrSessionTerminal.Code:
			status = http.StatusConflict
		}
		writeJSON(w, status, APIError{Code: coreErr.Code, Message: coreErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: err.Error()})
}

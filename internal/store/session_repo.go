package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/navihq/recovery-core/internal/domain"
)

// SessionRepo handles persistence for HealingSession records and their
// attempts.
type SessionRepo struct{}

// Save upserts a session and inserts any attempts not yet recorded.
// Attempts are append-only, so re-saving a session is idempotent.
func (r *SessionRepo) Save(ctx context.Context, db *sql.DB, sess *domain.HealingSession) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO healing_sessions (id, correlation_id, status, max_attempts, timeout_minutes, started_at_unix, ended_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET status = excluded.status, ended_at_unix = excluded.ended_at_unix`
	if _, err := tx.ExecContext(ctx, upsert,
		sess.ID,
		sess.CorrelationID,
		string(sess.Status),
		sess.MaxAttempts,
		sess.TimeoutMinutes,
		sess.StartedAtUnix,
		sess.EndedAtUnix,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	const insertAttempt = `INSERT OR IGNORE INTO healing_attempts
(session_id, attempt_no, status, category, cause_message, plan_strategy, plan_allowed, plan_reason, plan_goal, confidence, risk, result, started_at_unix, ended_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, a := range sess.Attempts {
		var category, causeMsg string
		if a.Cause != nil {
			category = string(a.Cause.Category)
			causeMsg = a.Cause.Message
		}
		var strategy, reason, goal, risk string
		allowed := 0
		if a.Plan != nil {
			strategy = string(a.Plan.Strategy)
			reason = a.Plan.Reason
			goal = a.Plan.Goal
			risk = string(a.Plan.Risk)
			if a.Plan.Allowed {
				allowed = 1
			}
		}
		if _, err := tx.ExecContext(ctx, insertAttempt,
			sess.ID,
			a.Number,
			string(a.Status),
			category,
			causeMsg,
			strategy,
			allowed,
			reason,
			goal,
			a.Confidence,
			risk,
			a.Result,
			a.StartedAtUnix,
			a.EndedAtUnix,
		); err != nil {
			return fmt.Errorf("insert attempt %d: %w", a.Number, err)
		}
	}

	return tx.Commit()
}

// GetByID loads a session and its attempts. Cause and plan details are
// restored to the summary fields the schema keeps.
func (r *SessionRepo) GetByID(ctx context.Context, db *sql.DB, id string) (*domain.HealingSession, error) {
	const q = `SELECT id, correlation_id, status, max_attempts, timeout_minutes, started_at_unix, ended_at_unix
FROM healing_sessions WHERE id = ?`

	var sess domain.HealingSession
	var status string
	err := db.QueryRowContext(ctx, q, id).Scan(
		&sess.ID,
		&sess.CorrelationID,
		&status,
		&sess.MaxAttempts,
		&sess.TimeoutMinutes,
		&sess.StartedAtUnix,
		&sess.EndedAtUnix,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Status = domain.SessionStatus(status)

	attempts, err := r.listAttempts(ctx, db, id)
	if err != nil {
		return nil, err
	}
	sess.Attempts = attempts
	return &sess, nil
}

func (r *SessionRepo) listAttempts(ctx context.Context, db *sql.DB, sessionID string) ([]domain.HealingAttempt, error) {
	const q = `SELECT attempt_no, status, category, cause_message, plan_strategy, plan_allowed, plan_reason, plan_goal, confidence, risk, result, started_at_unix, ended_at_unix
FROM healing_attempts WHERE session_id = ? ORDER BY attempt_no ASC`

	rows, err := db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.HealingAttempt
	for rows.Next() {
		var a domain.HealingAttempt
		var status, category, causeMsg, strategy, reason, goal, risk string
		var allowed int
		if err := rows.Scan(
			&a.Number, &status, &category, &causeMsg,
			&strategy, &allowed, &reason, &goal,
			&a.Confidence, &risk, &a.Result,
			&a.StartedAtUnix, &a.EndedAtUnix,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Status = domain.SessionStatus(status)
		if category != "" {
			a.Cause = &domain.FailureCause{
				Category: domain.FailureCategory(category),
				Message:  causeMsg,
			}
		}
		if strategy != "" {
			a.Plan = &domain.FixPlan{
				Allowed:    allowed == 1,
				Strategy:   domain.FixStrategy(strategy),
				Reason:     reason,
				Goal:       goal,
				Confidence: a.Confidence,
				Risk:       domain.Level(risk),
			}
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListByCorrelation returns sessions for an external correlation id,
// most recent first, without attempt detail.
func (r *SessionRepo) ListByCorrelation(ctx context.Context, db *sql.DB, correlationID string) ([]domain.HealingSession, error) {
	const q = `SELECT id, correlation_id, status, max_attempts, timeout_minutes, started_at_unix, ended_at_unix
FROM healing_sessions WHERE correlation_id = ? ORDER BY started_at_unix DESC`

	rows, err := db.QueryContext(ctx, q, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.HealingSession
	for rows.Next() {
		var sess domain.HealingSession
		var status string
		if err := rows.Scan(
			&sess.ID, &sess.CorrelationID, &status,
			&sess.MaxAttempts, &sess.TimeoutMinutes,
			&sess.StartedAtUnix, &sess.EndedAtUnix,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Status = domain.SessionStatus(status)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteOlderThan removes terminal sessions (and their attempts) that
// ended before cutoffUnix. Returns the number of sessions removed.
func (r *SessionRepo) DeleteOlderThan(ctx context.Context, db *sql.DB, cutoffUnix int64) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const delAttempts = `DELETE FROM healing_attempts WHERE session_id IN (
SELECT id FROM healing_sessions
WHERE status IN ('completed', 'blocked', 'failed', 'aborted') AND ended_at_unix > 0 AND ended_at_unix < ?)`
	if _, err := tx.ExecContext(ctx, delAttempts, cutoffUnix); err != nil {
		return 0, fmt.Errorf("delete attempts: %w", err)
	}

	const delSessions = `DELETE FROM healing_sessions
WHERE status IN ('completed', 'blocked', 'failed', 'aborted') AND ended_at_unix > 0 AND ended_at_unix < ?`
	res, err := tx.ExecContext(ctx, delSessions, cutoffUnix)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// SessionMirror adapts SessionRepo to the healing engine's SessionStore
// interface.
type SessionMirror struct {
	DB   *sql.DB
	Repo *SessionRepo
}

// SaveSession implements healing.SessionStore.
func (m *SessionMirror) SaveSession(ctx context.Context, sess *domain.HealingSession) error {
	return m.Repo.Save(ctx, m.DB, sess)
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/navihq/recovery-core/internal/domain"
)

// IngestEventRepo handles the ingest log: one row per accepted event,
// patched with its classification outcome after processing.
type IngestEventRepo struct{}

// Insert records an accepted event before classification.
func (r *IngestEventRepo) Insert(ctx context.Context, db *sql.DB, ev domain.Event) error {
	const q = `INSERT INTO ingest_events (source, event_type, external_id, dedup_key, title, url, received_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		string(ev.Source),
		string(ev.Type),
		ev.ExternalID,
		ev.DedupKey(),
		ev.Title,
		ev.URL,
		ev.ReceivedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("insert ingest event: %w", err)
	}
	return nil
}

// MarkProcessed patches the most recent row for the event's dedup key
// with the classification outcome.
func (r *IngestEventRepo) MarkProcessed(ctx context.Context, db *sql.DB, pe domain.ProcessedEvent) error {
	const q = `UPDATE ingest_events
SET priority = ?, trigger_tag = ?, confidence = ?, requires_approval = ?
WHERE id = (SELECT id FROM ingest_events WHERE dedup_key = ? ORDER BY id DESC LIMIT 1)`
	approval := 0
	if pe.RequiresApproval {
		approval = 1
	}
	_, err := db.ExecContext(ctx, q,
		string(pe.Priority),
		string(pe.Trigger),
		pe.Confidence,
		approval,
		pe.Event.DedupKey(),
	)
	if err != nil {
		return fmt.Errorf("mark ingest event processed: %w", err)
	}
	return nil
}

// IngestRow is one row of the ingest log as read back for inspection.
type IngestRow struct {
	ID               int64              `json:"id"`
	Source           domain.EventSource `json:"source"`
	Type             domain.EventType   `json:"event_type"`
	ExternalID       string             `json:"external_id"`
	Title            string             `json:"title,omitempty"`
	Priority         domain.Priority    `json:"priority,omitempty"`
	Trigger          domain.Trigger     `json:"trigger,omitempty"`
	Confidence       float64            `json:"confidence"`
	RequiresApproval bool               `json:"requires_approval"`
	ReceivedAtUnix   int64              `json:"received_at"`
}

// ListRecent returns the newest rows of the ingest log, most recent first.
func (r *IngestEventRepo) ListRecent(ctx context.Context, db *sql.DB, limit int) ([]IngestRow, error) {
	const q = `SELECT id, source, event_type, external_id, title, priority, trigger_tag, confidence, requires_approval, received_at_unix
FROM ingest_events ORDER BY id DESC LIMIT ?`

	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list ingest events: %w", err)
	}
	defer rows.Close()

	var out []IngestRow
	for rows.Next() {
		var row IngestRow
		var source, etype, priority, trigger string
		var approval int
		if err := rows.Scan(
			&row.ID, &source, &etype, &row.ExternalID, &row.Title,
			&priority, &trigger, &row.Confidence, &approval, &row.ReceivedAtUnix,
		); err != nil {
			return nil, fmt.Errorf("scan ingest event: %w", err)
		}
		row.Source = domain.EventSource(source)
		row.Type = domain.EventType(etype)
		row.Priority = domain.Priority(priority)
		row.Trigger = domain.Trigger(trigger)
		row.RequiresApproval = approval == 1
		out = append(out, row)
	}
	return out, rows.Err()
}

// IngestLog adapts IngestEventRepo to the pool's EventSink interface.
type IngestLog struct {
	DB   *sql.DB
	Repo *IngestEventRepo
}

// Accepted implements ingest.EventSink.
func (l *IngestLog) Accepted(ev domain.Event) error {
	return l.Repo.Insert(context.Background(), l.DB, ev)
}

// Processed implements ingest.EventSink.
func (l *IngestLog) Processed(pe domain.ProcessedEvent) error {
	return l.Repo.MarkProcessed(context.Background(), l.DB, pe)
}

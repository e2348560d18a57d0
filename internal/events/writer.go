package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"appforge/internal/domain"
)

const (
	ProjectCreated      = "project.created"
	ProjectUpdated      = "project.updated"
	ProjectDeleted      = "project.deleted"
	GenerationStarted   = "generation.started"
	GenerationStep      = "generation.step"
	GenerationCompleted = "generation.completed"
	GenerationFailed    = "generation.failed"
	GenerationCancelled = "generation.cancelled"
	FileChanged         = "file.changed"
)

// Writer appends to the events table. A Writer without a DB drops events.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, evtType, projectID, actorID string, payload EventPayload) error {
	if w.DB == nil {
		return nil
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(projectID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", evtType, err)
	}
	return nil
}

// Latest returns up to n most recent events, newest first. Empty filters match everything.
func (w Writer) Latest(ctx context.Context, n int, projectID, evtType string) ([]domain.Event, error) {
	if w.DB == nil {
		return []domain.Event{}, nil
	}
	if n <= 0 {
		n = 20
	}
	var where []string
	var args []any
	if projectID != "" {
		where = append(where, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		where = append(where, "type=?")
		args = append(args, evtType)
	}
	q := `SELECT id,ts,type,COALESCE(project_id,''),actor_id,payload_json FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)
	return w.query(ctx, q, args...)
}

// After returns events with id greater than cursor in ascending order.
func (w Writer) After(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	if w.DB == nil {
		return []domain.Event{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	return w.query(ctx, `SELECT id,ts,type,COALESCE(project_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestID returns the newest event id, 0 when the log is empty.
func (w Writer) LatestID(ctx context.Context) (int64, error) {
	if w.DB == nil {
		return 0, nil
	}
	var id sql.NullInt64
	if err := w.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (w Writer) query(ctx context.Context, q string, args ...any) ([]domain.Event, error) {
	rows, err := w.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/postgres"
)

// MaxRecent caps how many journal rows one query returns.
const MaxRecent = 1000

const schema = `
CREATE TABLE IF NOT EXISTS change_events (
    id          BIGSERIAL PRIMARY KEY,
    path        TEXT        NOT NULL,
    kind        TEXT        NOT NULL,
    observed_at TIMESTAMPTZ NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS change_events_path_idx ON change_events (path, id DESC);
`

// Entry is one journaled change.
type Entry struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	Kind       string    `json:"kind"`
	ObservedAt time.Time `json:"observed_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal appends change events to the change_events table and reads them
// back newest first.
type Journal struct {
	client *postgres.Client
}

func NewJournal(client *postgres.Client) *Journal {
	return &Journal{client: client}
}

// EnsureSchema creates the table and index if they do not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating change_events schema: %w", err)
	}
	return nil
}

// Write inserts events in one transaction.
func (j *Journal) Write(ctx context.Context, events []watcher.ChangeEvent) error {
	return j.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO change_events (path, kind, observed_at) VALUES ($1, $2, $3)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, e.Path, e.Kind.String(), e.ObservedAt); err != nil {
				return fmt.Errorf("journaling %s: %w", e, err)
			}
		}
		return nil
	})
}

// Recent returns up to limit entries, newest first. A non-empty path
// restricts the result to that file.
func (j *Journal) Recent(ctx context.Context, path string, limit int) ([]Entry, error) {
	limit = clampLimit(limit)
	query := `SELECT id, path, kind, observed_at, recorded_at FROM change_events ORDER BY id DESC LIMIT $1`
	args := []any{limit}
	if path != "" {
		query = `SELECT id, path, kind, observed_at, recorded_at FROM change_events WHERE path = $2 ORDER BY id DESC LIMIT $1`
		args = append(args, path)
	}

	rows, err := j.client.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying change_events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.Kind, &e.ObservedAt, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning change_events row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating change_events: %w", err)
	}
	return entries, nil
}

// Ping checks the journal's database.
func (j *Journal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > MaxRecent:
		return MaxRecent
	default:
		return limit
	}
}

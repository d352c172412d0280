// Package audit records what the redaction pipeline rewrote, as
// per-turn entity-type counts in SQLite. Message content is never
// written; conversation history stays in memory only.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"SafeChat/internal/redact"
)

// Recorder appends redaction events to a SQLite database.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or reuses) the audit database at path.
func Open(path string, logger *slog.Logger) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	createEventsTable := `
	CREATE TABLE IF NOT EXISTS redaction_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		count INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);`

	if _, err := db.Exec(createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create redaction_events table: %w", err)
	}

	return &Recorder{db: db, logger: logger}, nil
}

// Record writes one row per redacted entity type for the turn. A
// failed write is logged and dropped; auditing never blocks a turn.
func (r *Recorder) Record(sessionID string, findings []redact.Finding) {
	if len(findings) == 0 {
		return
	}

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Warn("failed to begin audit transaction", "error", err)
		return
	}
	defer tx.Rollback()

	now := time.Now()
	for _, f := range findings {
		_, err := tx.Exec(
			"INSERT INTO redaction_events (session_id, entity_type, count, created_at) VALUES (?, ?, ?, ?)",
			sessionID, f.EntityType, f.Count, now,
		)
		if err != nil {
			r.logger.Warn("failed to record redaction event", "entity_type", f.EntityType, "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Warn("failed to commit audit transaction", "error", err)
	}
}

// TotalsBySession sums recorded entity counts for one session,
// keyed by entity type.
func (r *Recorder) TotalsBySession(sessionID string) (map[string]int, error) {
	rows, err := r.db.Query(
		"SELECT entity_type, SUM(count) FROM redaction_events WHERE session_id = ? GROUP BY entity_type",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query redaction events: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var entityType string
		var total int
		if err := rows.Scan(&entityType, &total); err != nil {
			return nil, fmt.Errorf("failed to scan redaction event: %w", err)
		}
		totals[entityType] = total
	}
	return totals, rows.Err()
}

// Close releases the underlying database handle.
func (r *Recorder) Close() error { return r.db.Close() }

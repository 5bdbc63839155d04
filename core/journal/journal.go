// Package journal records session history in a local sqlite database:
// which context ran, when, and what each sync did. The journal is
// best-effort bookkeeping; callers log journal failures and keep going.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Config struct {
	BusyTimeout time.Duration
	EnableWAL   bool
}

func DefaultConfig() Config {
	return Config{
		BusyTimeout: 30 * time.Second,
		EnableWAL:   true,
	}
}

type SessionRecord struct {
	ID        string
	Context   string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    string
}

type MergeRecord struct {
	SessionID        string
	Policy           string
	Entities         int
	Relations        int
	Conflicts        int
	DroppedRelations int
	CreatedAt        time.Time
}

type Journal struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

func Open(path string, config Config, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", path, config.BusyTimeout.Milliseconds())
	if config.EnableWAL {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db, path: path, logger: logger}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	context TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	status TEXT NOT NULL DEFAULT 'active'
);
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	kind TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS merges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	policy TEXT NOT NULL,
	entities INTEGER NOT NULL,
	relations INTEGER NOT NULL,
	conflicts INTEGER NOT NULL,
	dropped_relations INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_merges_session ON merges(session_id);
`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) SessionStarted(ctx context.Context, id, contextName string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions (id, context, started_at, status) VALUES (?, ?, ?, 'active')`,
		id, contextName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

func (j *Journal) SessionEnded(ctx context.Context, id, status string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	return nil
}

func (j *Journal) Event(ctx context.Context, sessionID, kind, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (session_id, kind, detail, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, kind, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (j *Journal) MergeCompleted(ctx context.Context, rec MergeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO merges (session_id, policy, entities, relations, conflicts, dropped_relations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Policy, rec.Entities, rec.Relations, rec.Conflicts, rec.DroppedRelations, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record merge: %w", err)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, context, started_at, ended_at, status FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var ended sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Context, &rec.StartedAt, &ended, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if ended.Valid {
			rec.EndedAt = &ended.Time
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// Merges returns merge records for one session, oldest first.
func (j *Journal) Merges(ctx context.Context, sessionID string) ([]MergeRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, policy, entities, relations, conflicts, dropped_relations, created_at
		 FROM merges WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list merges: %w", err)
	}
	defer rows.Close()

	var merges []MergeRecord
	for rows.Next() {
		var rec MergeRecord
		if err := rows.Scan(&rec.SessionID, &rec.Policy, &rec.Entities, &rec.Relations,
			&rec.Conflicts, &rec.DroppedRelations, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan merge: %w", err)
		}
		merges = append(merges, rec)
	}
	return merges, rows.Err()
}

// Package history records every collection attempt in a local SQLite
// database. Recording never fails a collection; errors are logged only.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"pagescope/internal/engine"
)

// Record is one completed or failed collection.
type Record struct {
	ID         int64
	URL        string
	Device     string
	Categories string
	EntryID    string
	Cached     bool
	Attempts   int
	DurationMs int64
	Outcome    string // "ok" or "error"
	Error      string
	At         time.Time
}

// Log writes collection records to SQLite.
type Log struct {
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	url          TEXT NOT NULL,
	device       TEXT NOT NULL,
	categories   TEXT NOT NULL,
	entry_id     TEXT,
	cached       INTEGER NOT NULL DEFAULT 0,
	attempts     INTEGER NOT NULL DEFAULT 1,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	outcome      TEXT NOT NULL,
	error        TEXT,
	at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_collections_at ON collections(at);
`

// Open opens (or creates) the history database at path.
func Open(path string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Log{db: db, logger: logger}, nil
}

// Record appends one collection outcome. Errors are logged, not returned;
// history must never fail a collection.
func (l *Log) Record(target engine.Target, entryID string, cached bool, attempts int, took time.Duration, runErr error) {
	outcome := "ok"
	errText := ""
	if runErr != nil {
		outcome = "error"
		errText = runErr.Error()
	}
	_, err := l.db.Exec(
		`INSERT INTO collections (url, device, categories, entry_id, cached, attempts, duration_ms, outcome, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		target.URL, string(target.Device), strings.Join(target.SortedCategories(), ","),
		entryID, cached, attempts, took.Milliseconds(), outcome, errText, time.Now().UTC(),
	)
	if err != nil {
		l.logger.Warn("history record failed", zap.Error(err))
	}
}

// Recent returns the latest n records, newest first.
func (l *Log) Recent(n int) ([]Record, error) {
	rows, err := l.db.Query(
		`SELECT id, url, device, categories, entry_id, cached, attempts, duration_ms, outcome, error, at
		 FROM collections ORDER BY at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.URL, &r.Device, &r.Categories, &r.EntryID,
			&r.Cached, &r.Attempts, &r.DurationMs, &r.Outcome, &r.Error, &r.At); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (l *Log) Close() error { return l.db.Close() }

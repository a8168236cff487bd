// Package history persists a small audit trail of proxied requests and
// agent action runs in an embedded SQLite database. Writes are best-effort:
// history must never fail a request.
package history

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RequestRecord is one proxied upstream fetch.
type RequestRecord struct {
	ID         int64   `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Resource   string  `json:"resource"`
	Status     int     `json:"status"`
	DurationMs float64 `json:"duration_ms"`
	CacheHit   bool    `json:"cache_hit"`
	Error      string  `json:"error,omitempty"`
}

// ActionRecord is one agent action run.
type ActionRecord struct {
	ID         int64   `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Action     string  `json:"action"`
	OK         bool    `json:"ok"`
	DurationMs float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// Store is the SQLite-backed history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT NOT NULL,
			resource    TEXT NOT NULL,
			status      INTEGER NOT NULL,
			duration_ms REAL NOT NULL,
			cache_hit   INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts);

		CREATE TABLE IF NOT EXISTS action_runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT NOT NULL,
			action      TEXT NOT NULL,
			ok          INTEGER NOT NULL,
			duration_ms REAL NOT NULL,
			error       TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_action_runs_ts ON action_runs(ts);
	`)
	if err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// AddRequest records a proxied request. Errors are logged, not returned.
func (s *Store) AddRequest(resource string, status int, durationMs float64, cacheHit bool, reqErr error) {
	errText := ""
	if reqErr != nil {
		errText = reqErr.Error()
	}
	_, err := s.db.Exec(`
		INSERT INTO requests (ts, resource, status, duration_ms, cache_hit, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, time.Now().UTC().Format(time.RFC3339), resource, status, durationMs, boolInt(cacheHit), errText)
	if err != nil {
		log.Printf("[history] recording request: %v", err)
	}
}

// AddAction records an agent action run. Errors are logged, not returned.
func (s *Store) AddAction(action string, ok bool, durationMs float64, runErr error) {
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err := s.db.Exec(`
		INSERT INTO action_runs (ts, action, ok, duration_ms, error)
		VALUES (?, ?, ?, ?, ?)
	`, time.Now().UTC().Format(time.RFC3339), action, boolInt(ok), durationMs, errText)
	if err != nil {
		log.Printf("[history] recording action: %v", err)
	}
}

// RecentRequests returns up to limit most recent request records.
func (s *Store) RecentRequests(limit int) ([]RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, ts, resource, status, duration_ms, cache_hit, error
		FROM requests ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []RequestRecord
	for rows.Next() {
		var rec RequestRecord
		var cacheHit int
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Resource, &rec.Status,
			&rec.DurationMs, &cacheHit, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		rec.CacheHit = cacheHit != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentActions returns up to limit most recent action records.
func (s *Store) RecentActions(limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, ts, action, ok, duration_ms, error
		FROM action_runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		var ok int
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Action, &ok,
			&rec.DurationMs, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.OK = ok != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records older than the cutoff, returning rows removed.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	var total int64
	for _, table := range []string{"requests", "action_runs"} {
		res, err := s.db.Exec(`DELETE FROM `+table+` WHERE ts < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

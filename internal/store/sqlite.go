// Package store persists a history ledger of terminal job outcomes and
// running token counters. It never resurrects queued work: the queue is
// in-memory only, and a restart starts from an empty batch.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rainlynd/srt-translator-sub001/internal/jobs"
	_ "modernc.org/sqlite"
)

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
	id TEXT PRIMARY KEY,
	input_ref TEXT NOT NULL,
	job_type TEXT NOT NULL,
	class TEXT NOT NULL,
	target_lang TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	output_ref TEXT,
	error TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS token_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_history_status ON job_history(status);
CREATE INDEX IF NOT EXISTS idx_history_completed ON job_history(completed_at);
`

// SQLiteStore implements the history ledger using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewSQLiteStore opens (or creates) the ledger database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
		_, err = db.Exec(`
			INSERT OR IGNORE INTO token_metadata (key, value) VALUES
				('session_tokens_in', '0'),
				('session_tokens_out', '0'),
				('lifetime_tokens_in', '0'),
				('lifetime_tokens_out', '0')
		`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init token metadata: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	} else if version < schemaVersion {
		if version < 2 {
			// v1 -> v2: target language column for per-language history queries
			if _, err := db.Exec(`ALTER TABLE job_history ADD COLUMN target_lang TEXT NOT NULL DEFAULT ''`); err != nil {
				db.Close()
				return nil, fmt.Errorf("add target_lang column: %w", err)
			}
		}
		if _, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("update schema version: %w", err)
		}
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// RecordJob inserts or replaces the terminal record for a job.
func (s *SQLiteStore) RecordJob(job *jobs.FileJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO job_history
			(id, input_ref, job_type, class, target_lang, status, output_ref, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.InputRef, string(job.Type), string(job.Class()),
		job.Params.TargetLang, string(job.State), job.OutputRef, job.Error,
		job.CreatedAt.Format(time.RFC3339), job.CompletedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	return nil
}

// HistoryRecord is one ledger row.
type HistoryRecord struct {
	ID          string
	InputRef    string
	Type        jobs.Type
	Class       jobs.Class
	TargetLang  string
	Status      jobs.State
	OutputRef   string
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Recent returns up to limit ledger rows, newest first.
func (s *SQLiteStore) Recent(limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, input_ref, job_type, class, target_lang, status,
		       COALESCE(output_ref, ''), COALESCE(error, ''), created_at, completed_at
		FROM job_history ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var r HistoryRecord
		var typ, class, status, created, completed string
		if err := rows.Scan(&r.ID, &r.InputRef, &typ, &class, &r.TargetLang,
			&status, &r.OutputRef, &r.Error, &created, &completed); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Type = jobs.Type(typ)
		r.Class = jobs.Class(class)
		r.Status = jobs.State(status)
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		r.CompletedAt, _ = time.Parse(time.RFC3339, completed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddTokenUsage adds actual token counts to the session and lifetime
// counters.
func (s *SQLiteStore) AddTokenUsage(in, out int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, delta := range map[string]int{
		"session_tokens_in":   in,
		"session_tokens_out":  out,
		"lifetime_tokens_in":  in,
		"lifetime_tokens_out": out,
	} {
		_, err := s.db.Exec(`
			UPDATE token_metadata
			SET value = CAST(CAST(value AS INTEGER) + ? AS TEXT), updated_at = CURRENT_TIMESTAMP
			WHERE key = ?`, delta, key)
		if err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
	}
	return nil
}

// ResetSession zeroes the session token counters.
func (s *SQLiteStore) ResetSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE token_metadata
		SET value = '0', updated_at = CURRENT_TIMESTAMP
		WHERE key IN ('session_tokens_in', 'session_tokens_out')`)
	if err != nil {
		return fmt.Errorf("reset session counters: %w", err)
	}
	return nil
}

// TokenUsage returns the session and lifetime token counters.
func (s *SQLiteStore) TokenUsage() (sessionIn, sessionOut, lifetimeIn, lifetimeOut int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key, value FROM token_metadata`)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("query token metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return 0, 0, 0, 0, fmt.Errorf("scan token metadata: %w", err)
		}
		n, _ := strconv.ParseInt(value, 10, 64)
		switch key {
		case "session_tokens_in":
			sessionIn = n
		case "session_tokens_out":
			sessionOut = n
		case "lifetime_tokens_in":
			lifetimeIn = n
		case "lifetime_tokens_out":
			lifetimeOut = n
		}
	}
	return sessionIn, sessionOut, lifetimeIn, lifetimeOut, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Package storage persists the candidate queue in SQLite so proposals
// survive restarts. The store keeps memory authoritative and pushes the
// full exported list here after every state change.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeletor/ai-wot/internal/candidate"
	"github.com/jeletor/ai-wot/internal/wot"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema
// migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS candidates (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    type TEXT NOT NULL,
    target_key TEXT NOT NULL,
    comment TEXT NOT NULL,
    event_ref TEXT,
    source TEXT,
    metadata TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    published_event_id TEXT,
    reject_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_candidates_status ON candidates(status);
CREATE INDEX IF NOT EXISTS idx_candidates_target ON candidates(target_key);
CREATE INDEX IF NOT EXISTS idx_candidates_created ON candidates(created_at);`
	_, err := d.db.Exec(schema)
	return err
}

// SaveCandidates replaces the stored candidate set with cs. The swap is
// transactional: a failed insert leaves the previous set intact.
func (d *DB) SaveCandidates(cs []candidate.Candidate) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save candidates: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM candidates`); err != nil {
		return fmt.Errorf("clear candidates: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO candidates (id, status, type, target_key, comment, event_ref, source, metadata, created_at, updated_at, published_event_id, reject_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert candidate: %w", err)
	}
	defer stmt.Close()

	for _, c := range cs {
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", c.ID, err)
		}
		if _, err := stmt.Exec(
			c.ID, string(c.Status), string(c.Type), c.TargetKey, c.Comment,
			c.EventRef, c.Source, meta, c.CreatedAt.Unix(), c.UpdatedAt.Unix(),
			c.PublishedEventID, c.RejectReason,
		); err != nil {
			return fmt.Errorf("insert candidate %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save candidates: %w", err)
	}
	return nil
}

// LoadCandidates returns every stored candidate, oldest first.
func (d *DB) LoadCandidates() ([]candidate.Candidate, error) {
	rows, err := d.db.Query(
		`SELECT id, status, type, target_key, comment, event_ref, source, metadata, created_at, updated_at, published_event_id, reject_reason
		 FROM candidates ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	defer rows.Close()

	var out []candidate.Candidate
	for rows.Next() {
		var (
			c                    candidate.Candidate
			status, typ, meta    string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(
			&c.ID, &status, &typ, &c.TargetKey, &c.Comment,
			&c.EventRef, &c.Source, &meta, &createdAt, &updatedAt,
			&c.PublishedEventID, &c.RejectReason,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Status = candidate.Status(status)
		c.Type = wot.Type(typ)
		c.CreatedAt = time.Unix(createdAt, 0)
		c.UpdatedAt = time.Unix(updatedAt, 0)
		if c.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCandidates returns the number of stored candidates.
func (d *DB) CountCandidates() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM candidates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	return n, nil
}

// encodeMetadata serialises the free-form metadata map; empty maps store
// as the empty string.
func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeMetadata inverts encodeMetadata.
func decodeMetadata(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

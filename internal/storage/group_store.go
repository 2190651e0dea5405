// Package storage holds the durable adapters: the group blob store the sync
// engine writes through to, and the directory used for session and profile
// lookups.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// GroupRecord is one persisted group: its id and the serialized state blob.
// A nil blob means the durable row exists but carries no state yet.
type GroupRecord struct {
	ID   string
	Blob []byte
}

// GroupStore is the key-value-by-group-id view of durable storage. LoadAll
// runs once at startup; Update is the write-through path on every mutation.
// Deletion of defunct groups' rows belongs to an external owner.
type GroupStore interface {
	LoadAll() ([]GroupRecord, error)
	Update(groupID string, blob []byte) error
	Close() error
}

// SQLiteGroupStore keeps group blobs in a local SQLite database.
type SQLiteGroupStore struct {
	db *sql.DB
}

// OpenGroupStore opens (creating if necessary) the group database at path.
func OpenGroupStore(path string) (*SQLiteGroupStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open group store: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure group store: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS groups (
			id    TEXT PRIMARY KEY,
			state BLOB
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create groups table: %w", err)
	}
	return &SQLiteGroupStore{db: db}, nil
}

func (s *SQLiteGroupStore) LoadAll() ([]GroupRecord, error) {
	rows, err := s.db.Query(`SELECT id, state FROM groups`)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()

	var records []GroupRecord
	for rows.Next() {
		var rec GroupRecord
		if err := rows.Scan(&rec.ID, &rec.Blob); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	return records, nil
}

func (s *SQLiteGroupStore) Update(groupID string, blob []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO groups (id, state) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state
	`, groupID, blob)
	if err != nil {
		return fmt.Errorf("update group %s: %w", groupID, err)
	}
	return nil
}

func (s *SQLiteGroupStore) Close() error {
	return s.db.Close()
}

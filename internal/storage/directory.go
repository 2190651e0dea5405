package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var (
	ErrSessionNotFound = errors.New("session token not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Directory is the user/session lookup service: profiles, session tokens and
// the online flag. The sync engine treats it as an external collaborator.
type Directory interface {
	UserBySession(token string) (string, error)
	SessionTokens(userID string) ([]string, error)
	Profile(userID string) (name, image string, err error)
	SetOnline(userID string, online bool) error
	Close() error
}

// SQLiteDirectory backs the directory with the users and sessions tables of
// a local SQLite database.
type SQLiteDirectory struct {
	db *sql.DB
}

func OpenDirectory(path string) (*SQLiteDirectory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure directory: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id     TEXT PRIMARY KEY,
			name   TEXT DEFAULT '',
			image  TEXT DEFAULT '',
			online INTEGER DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS sessions (
			token   TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id)
		);
		CREATE INDEX IF NOT EXISTS sessions_user_id ON sessions(user_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create directory tables: %w", err)
	}
	return &SQLiteDirectory{db: db}, nil
}

func (d *SQLiteDirectory) UserBySession(token string) (string, error) {
	var userID string
	err := d.db.QueryRow(`SELECT user_id FROM sessions WHERE token = ?`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session lookup: %w", err)
	}
	return userID, nil
}

func (d *SQLiteDirectory) SessionTokens(userID string) ([]string, error) {
	rows, err := d.db.Query(`SELECT token FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("session tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan session token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session tokens: %w", err)
	}
	return tokens, nil
}

func (d *SQLiteDirectory) Profile(userID string) (string, string, error) {
	var name, image string
	err := d.db.QueryRow(`SELECT name, image FROM users WHERE id = ?`, userID).Scan(&name, &image)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrUserNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("profile lookup: %w", err)
	}
	return name, image, nil
}

func (d *SQLiteDirectory) SetOnline(userID string, online bool) error {
	flag := 0
	if online {
		flag = 1
	}
	res, err := d.db.Exec(`UPDATE users SET online = ? WHERE id = ?`, flag, userID)
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpsertUser and AddSession exist for provisioning and tests; the sync
// engine itself only reads.
func (d *SQLiteDirectory) UpsertUser(id, name, image string) error {
	_, err := d.db.Exec(`
		INSERT INTO users (id, name, image) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, image = excluded.image
	`, id, name, image)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (d *SQLiteDirectory) AddSession(token, userID string) error {
	_, err := d.db.Exec(`
		INSERT INTO sessions (token, user_id) VALUES (?, ?)
		ON CONFLICT(token) DO UPDATE SET user_id = excluded.user_id
	`, token, userID)
	if err != nil {
		return fmt.Errorf("add session: %w", err)
	}
	return nil
}

func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}

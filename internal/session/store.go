// ABOUTME: SQLite-backed credential store for the saved token and profile.
// ABOUTME: Single-row table; the only local persistence the chat kit performs.

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoSession is returned by Load when nothing has been saved.
var ErrNoSession = errors.New("no saved session")

// Store persists the authentication token and user profile in a local SQLite
// database. It implements Provider.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore opens (or creates) the session database at path. Parent
// directories are created if needed.
func OpenStore(path string) (*Store, error) {
	logger := slog.Default().With("component", "session")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS session (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			token TEXT NOT NULL,
			expires_at DATETIME,
			saved_at DATETIME NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session schema: %w", err)
	}

	logger.Debug("session store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Save replaces the stored session.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	var expires *time.Time
	if !sess.ExpiresAt.IsZero() {
		expires = &sess.ExpiresAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, user_id, username, token, expires_at, saved_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			username = excluded.username,
			token = excluded.token,
			expires_at = excluded.expires_at,
			saved_at = excluded.saved_at
	`, sess.UserID, sess.Username, sess.Token, expires, time.Now())
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	s.logger.Debug("session saved", "user_id", sess.UserID)
	return nil
}

// Load returns the stored session or ErrNoSession.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT user_id, username, token, expires_at FROM session WHERE id = 1")

	var sess Session
	var expires sql.NullTime
	if err := row.Scan(&sess.UserID, &sess.Username, &sess.Token, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if expires.Valid {
		sess.ExpiresAt = expires.Time
	}

	return &sess, nil
}

// Clear removes the stored session.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE id = 1"); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Current implements Provider over the stored session.
func (s *Store) Current() (*Session, error) {
	sess, err := s.Load(context.Background())
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	if sess.Expired() {
		return nil, ErrExpired
	}
	return sess, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package offsetstore keeps the last handled update id per bot in SQLite so a restarted
// poller can resume where the previous one stopped.
package offsetstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store persists poll offsets in SQLite.
type Store struct {
	db *sql.DB
}

// New opens the database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

// AutoMigrate creates the poll_offsets table.
func (s *Store) AutoMigrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS poll_offsets (
		bot_id INTEGER PRIMARY KEY,
		update_id INTEGER NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);`)
	if err != nil {
		return fmt.Errorf("migrate poll_offsets: %w", err)
	}
	return nil
}

// Load returns the stored update id for botID. ok is false when nothing was saved yet.
func (s *Store) Load(ctx context.Context, botID int64) (updateID int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT update_id FROM poll_offsets WHERE bot_id = ?`, botID).Scan(&updateID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load offset for bot %d: %w", botID, err)
	}
	return updateID, true, nil
}

// Save records updateID for botID. The stored value never decreases; callers running
// handlers concurrently must only pass ids below which every update is handled.
func (s *Store) Save(ctx context.Context, botID, updateID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_offsets (bot_id, update_id, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(bot_id) DO UPDATE SET
			update_id = MAX(poll_offsets.update_id, excluded.update_id),
			updated_at = excluded.updated_at`,
		botID, updateID,
	)
	if err != nil {
		return fmt.Errorf("save offset for bot %d: %w", botID, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

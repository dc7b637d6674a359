package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ernie/fortcore/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a lookup matches no rows
var ErrNotFound = errors.New("not found")

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string.
// The Z suffix ensures the Go sqlite driver parses it back as UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Player methods ---

// UpsertPlayer creates a player row or refreshes name and last_seen
func (s *Store) UpsertPlayer(ctx context.Context, id uuid.UUID, name string, seen time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (uuid, name, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen
	`, id.String(), name, formatTimestamp(seen), formatTimestamp(seen))
	if err != nil {
		return fmt.Errorf("upserting player: %w", err)
	}
	return nil
}

// GetPlayers returns all known players, most recently seen first
func (s *Store) GetPlayers(ctx context.Context) ([]domain.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, name, first_seen, last_seen, matches_played
		FROM players ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// GetPlayer returns a single player by UUID
func (s *Store) GetPlayer(ctx context.Context, id uuid.UUID) (*domain.Player, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, name, first_seen, last_seen, matches_played
		FROM players WHERE uuid = ?
	`, id.String())
	p, err := scanPlayer(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Match methods ---

// StartMatch records a new match session and sets rec.ID
func (s *Store) StartMatch(ctx context.Context, rec *domain.MatchRecord) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (player_uuid, map_name, kit_name, started_at)
		VALUES (?, ?, ?, ?)
	`, rec.PlayerUUID.String(), rec.MapName, rec.KitName, formatTimestamp(rec.StartedAt))
	if err != nil {
		return fmt.Errorf("inserting match: %w", err)
	}
	rec.ID, err = result.LastInsertId()
	return err
}

// EndMatch closes a match session with its outcome and bumps the player's
// match counter.
func (s *Store) EndMatch(ctx context.Context, matchID int64, endedAt time.Time, reason string, recorded, reverted int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE matches
		SET ended_at = ?, end_reason = ?, actions_recorded = ?, actions_reverted = ?
		WHERE id = ?
	`, formatTimestamp(endedAt), reason, recorded, reverted, matchID)
	if err != nil {
		return fmt.Errorf("closing match: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE players SET matches_played = matches_played + 1
		WHERE uuid = (SELECT player_uuid FROM matches WHERE id = ?)
	`, matchID)
	if err != nil {
		return fmt.Errorf("bumping match counter: %w", err)
	}

	return tx.Commit()
}

// GetRecentMatches returns the most recent matches across all players
func (s *Store) GetRecentMatches(ctx context.Context, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.player_uuid, p.name, m.map_name, m.kit_name,
		       m.started_at, m.ended_at, m.end_reason, m.actions_recorded, m.actions_reverted
		FROM matches m JOIN players p ON p.uuid = m.player_uuid
		ORDER BY m.started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatches(rows)
}

// GetPlayerMatches returns a player's matches, newest first
func (s *Store) GetPlayerMatches(ctx context.Context, id uuid.UUID, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.player_uuid, p.name, m.map_name, m.kit_name,
		       m.started_at, m.ended_at, m.end_reason, m.actions_recorded, m.actions_reverted
		FROM matches m JOIN players p ON p.uuid = m.player_uuid
		WHERE m.player_uuid = ?
		ORDER BY m.started_at DESC LIMIT ?
	`, id.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatches(rows)
}

// --- User methods ---

// CreateUser adds an API user with a bcrypt password hash
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin) VALUES (?, ?, ?)
	`, username, passwordHash, isAdmin)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetUserByUsername returns a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at
		FROM users WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user by username
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserPassword replaces a user's password hash
func (s *Store) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ? WHERE username = ?
	`, passwordHash, username)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

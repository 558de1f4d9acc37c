// Package store provides storage backends for PromptCoach.
//
// This file implements an SQLite-backed session store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/PromptCoach/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// one writer at a time; sqlite3 serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSession: query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query session for %s: %w", userID, err)
	}
	return decodeSession(data)
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session models.Session) error {
	if err := validateUserID(session.UserID); err != nil {
		return err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions (user_id, data, last_active, ttl) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, last_active = excluded.last_active, ttl = excluded.ttl`,
		session.UserID, string(data), session.LastActive.UTC(), session.TTL)
	if err != nil {
		slog.Error("SQLiteStore.SaveSession: upsert failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to save session for %s: %w", session.UserID, err)
	}
	slog.Debug("SQLiteStore.SaveSession: saved", "userID", session.UserID, "stage", session.CurrentStage)
	return nil
}

func (s *SQLiteStore) SaveCompletedSession(ctx context.Context, completed models.CompletedSession) error {
	if err := validateUserID(completed.UserID); err != nil {
		return err
	}
	data, err := json.Marshal(completed)
	if err != nil {
		return fmt.Errorf("failed to marshal completed session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO completed_sessions (user_id, session_id, data, session_end_time) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET data = excluded.data, session_end_time = excluded.session_end_time`,
		completed.UserID, completed.SessionID, string(data), completed.SessionEndTime.UTC())
	if err != nil {
		slog.Error("SQLiteStore.SaveCompletedSession: insert failed", "error", err, "userID", completed.UserID)
		return fmt.Errorf("failed to save completed session %s: %w", completed.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) ListCompletedSessions(ctx context.Context, userID string, limit int) ([]models.CompletedSession, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM completed_sessions WHERE user_id = ? ORDER BY session_end_time DESC LIMIT ?`, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore.ListCompletedSessions: query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query completed sessions: %w", err)
	}
	defer rows.Close()
	return scanCompletedSessions(rows)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

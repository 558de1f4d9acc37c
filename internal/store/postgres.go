// Package store provides storage backends for PromptCoach.
//
// This file implements a PostgreSQL-backed session store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/PromptCoach/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetSession: query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query session for %s: %w", userID, err)
	}
	return decodeSession(data)
}

func (s *PostgresStore) SaveSession(ctx context.Context, session models.Session) error {
	if err := validateUserID(session.UserID); err != nil {
		return err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions (user_id, data, last_active, ttl) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET data = EXCLUDED.data, last_active = EXCLUDED.last_active, ttl = EXCLUDED.ttl`,
		session.UserID, string(data), session.LastActive.UTC(), session.TTL)
	if err != nil {
		slog.Error("PostgresStore.SaveSession: upsert failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to save session for %s: %w", session.UserID, err)
	}
	slog.Debug("PostgresStore.SaveSession: saved", "userID", session.UserID, "stage", session.CurrentStage)
	return nil
}

func (s *PostgresStore) SaveCompletedSession(ctx context.Context, completed models.CompletedSession) error {
	if err := validateUserID(completed.UserID); err != nil {
		return err
	}
	data, err := json.Marshal(completed)
	if err != nil {
		return fmt.Errorf("failed to marshal completed session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO completed_sessions (user_id, session_id, data, session_end_time) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, session_id) DO UPDATE SET data = EXCLUDED.data, session_end_time = EXCLUDED.session_end_time`,
		completed.UserID, completed.SessionID, string(data), completed.SessionEndTime.UTC())
	if err != nil {
		slog.Error("PostgresStore.SaveCompletedSession: insert failed", "error", err, "userID", completed.UserID)
		return fmt.Errorf("failed to save completed session %s: %w", completed.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) ListCompletedSessions(ctx context.Context, userID string, limit int) ([]models.CompletedSession, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	query := `SELECT data FROM completed_sessions WHERE user_id = $1 ORDER BY session_end_time DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore.ListCompletedSessions: query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query completed sessions: %w", err)
	}
	defer rows.Close()
	return scanCompletedSessions(rows)
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

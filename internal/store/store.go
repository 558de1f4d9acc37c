// Package store provides storage backends for PromptCoach.
//
// It includes an in-memory store and persistent backends (SQLite, PostgreSQL, DynamoDB)
// for in-progress coaching sessions and archived completed sessions.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PromptCoach/internal/models"
)

// Backend names accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Default DynamoDB table names.
const (
	DefaultSessionsTable          = "chatbot_sessions"
	DefaultCompletedSessionsTable = "chatbot_completed_sessions"
)

// Store defines the interface for coaching session persistence.
type Store interface {
	// GetSession returns the active session for userID, or nil when none exists.
	GetSession(ctx context.Context, userID string) (*models.Session, error)
	// SaveSession creates or replaces the active session for the session's user.
	SaveSession(ctx context.Context, session models.Session) error
	// SaveCompletedSession archives a finished session.
	SaveCompletedSession(ctx context.Context, completed models.CompletedSession) error
	// ListCompletedSessions returns up to limit archived sessions for userID, newest first.
	ListCompletedSessions(ctx context.Context, userID string, limit int) ([]models.CompletedSession, error)
	// Close releases any resources held by the store.
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN                    string // database connection string (sqlite path or postgres URL)
	Region                 string // AWS region for DynamoDB
	Endpoint               string // optional DynamoDB endpoint override (local testing)
	SessionsTable          string
	CompletedSessionsTable string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithDynamoRegion sets the AWS region used by the DynamoDB store.
func WithDynamoRegion(region string) Option {
	return func(o *Opts) {
		o.Region = region
	}
}

// WithDynamoEndpoint overrides the DynamoDB endpoint, e.g. for DynamoDB Local.
func WithDynamoEndpoint(endpoint string) Option {
	return func(o *Opts) {
		o.Endpoint = endpoint
	}
}

// WithTables sets the DynamoDB table names for active and completed sessions.
func WithTables(sessions, completed string) Option {
	return func(o *Opts) {
		o.SessionsTable = sessions
		o.CompletedSessionsTable = completed
	}
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{
		SessionsTable:          DefaultSessionsTable,
		CompletedSessionsTable: DefaultCompletedSessionsTable,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SessionsTable == "" {
		cfg.SessionsTable = DefaultSessionsTable
	}
	if cfg.CompletedSessionsTable == "" {
		cfg.CompletedSessionsTable = DefaultCompletedSessionsTable
	}
	return cfg
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return BackendPostgres
	}
	// key=value form, e.g. "host=localhost user=coach dbname=coach"
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return BackendPostgres
	}
	return BackendSQLite
}

// Open creates the store for backend. An empty backend is inferred: a DSN selects SQLite
// or PostgreSQL via DetectDSNType, otherwise the in-memory store is used.
func Open(ctx context.Context, backend string, opts ...Option) (Store, error) {
	if backend == "" {
		backend = BackendMemory
		if dsn := applyOpts(opts).DSN; dsn != "" {
			backend = DetectDSNType(dsn)
		}
	}
	slog.Debug("Store.Open: opening store", "backend", backend)
	switch strings.ToLower(backend) {
	case BackendMemory:
		return NewInMemoryStore(), nil
	case BackendSQLite:
		s, err := NewSQLiteStore(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := NewPostgresStore(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendDynamoDB:
		s, err := NewDynamoStore(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return models.ErrMissingUserID
	}
	return nil
}

package repo

import (
	"context"
	"io/fs"
	"log/slog"
	"strings"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	ConversationStore
	SubmissionStore
}

// ConversationStore persists per-user conversation state.
type ConversationStore interface {
	GetConversation(ctx context.Context, userID string) (*ConversationRecord, error)
	ResetConversation(ctx context.Context, userID string) error
	ApplyConversation(ctx context.Context, userID string, update ConversationUpdate) error
}

// SubmissionStore persists finalized submissions.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub NewSubmission) (*Submission, error)
	// CompleteConversation inserts the submission and resets the user's
	// conversation in one transaction.
	CompleteConversation(ctx context.Context, userID string, sub NewSubmission) (*Submission, error)
	GetSubmission(ctx context.Context, id int64) (*Submission, error)
	ListSubmissions(ctx context.Context, filter StatusFilter) ([]Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id int64, status SubmissionStatus, comments *string) error
	SubmissionStats(ctx context.Context) (*SubmissionStats, error)
	DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config selects the storage backend.
type Config struct {
	DatabaseURL string
	Schema      string
	SQLitePath  string
}

// Open connects to Postgres when a database URL is configured and falls back to SQLite otherwise.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Repository, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.Schema, logger)
	}
	return NewSQLite(ctx, cfg.SQLitePath, logger)
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*SQLiteRepository)(nil)
)

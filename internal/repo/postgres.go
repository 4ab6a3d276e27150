package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to a Postgres database.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
	now    func() time.Time
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// NewPostgres opens a new connection pool to the database with the desired search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo_postgres"),
		schema: schema,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// WithTx executes fn within a database transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

// -- Conversations --

// GetConversation loads the conversation for userID or returns ErrNotFound.
func (r *PostgresRepository) GetConversation(ctx context.Context, userID string) (*ConversationRecord, error) {
	rec, err := pgGetConversation(ctx, r.pool, userID, false)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ResetConversation folds the conversation back to idle, creating it if absent.
func (r *PostgresRepository) ResetConversation(ctx context.Context, userID string) error {
	return r.ApplyConversation(ctx, userID, resetUpdate())
}

// ApplyConversation merges update into the stored conversation inside one transaction.
func (r *PostgresRepository) ApplyConversation(ctx context.Context, userID string, update ConversationUpdate) error {
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		return pgApplyConversation(ctx, tx, userID, update, r.now())
	})
	if err != nil {
		return fmt.Errorf("apply conversation: %w", err)
	}
	return nil
}

func pgGetConversation(ctx context.Context, q pgQuerier, userID string, forUpdate bool) (*ConversationRecord, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanConversation(q.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return rec, nil
}

func pgApplyConversation(ctx context.Context, q pgQuerier, userID string, update ConversationUpdate, now time.Time) error {
	existing, err := pgGetConversation(ctx, q, userID, true)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	merged := update.Apply(userID, existing, now)

	const upsert = `
INSERT INTO conversations (` + conversationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (user_id) DO UPDATE SET
    display_name = EXCLUDED.display_name,
    handle = EXCLUDED.handle,
    state = EXCLUDED.state,
    name = EXCLUDED.name,
    address = EXCLUDED.address,
    phone = EXCLUDED.phone,
    media_reference = EXCLUDED.media_reference,
    updated_at = EXCLUDED.updated_at;
`
	if _, err := q.Exec(ctx, upsert, conversationArgs(merged)...); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// -- Submissions --

// CreateSubmission stores a new pending submission.
func (r *PostgresRepository) CreateSubmission(ctx context.Context, sub NewSubmission) (*Submission, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return pgInsertSubmission(ctx, r.pool, sub)
}

// CompleteConversation promotes a conversation into a submission and resets it atomically.
func (r *PostgresRepository) CompleteConversation(ctx context.Context, userID string, sub NewSubmission) (*Submission, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	var created *Submission
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		inserted, err := pgInsertSubmission(ctx, tx, sub)
		if err != nil {
			return err
		}
		if err := pgApplyConversation(ctx, tx, userID, resetUpdate(), r.now()); err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete conversation: %w", err)
	}
	return created, nil
}

func pgInsertSubmission(ctx context.Context, q pgQuerier, sub NewSubmission) (*Submission, error) {
	const query = `
INSERT INTO submissions (user_id, name, address, phone, handle, media_reference)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + submissionColumns + `;
`
	inserted, err := scanSubmission(q.QueryRow(ctx, query,
		sub.UserID,
		sub.Name,
		sub.Address,
		sub.Phone,
		nullable(sub.Handle),
		sub.MediaReference,
	))
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}
	return inserted, nil
}

// GetSubmission retrieves a submission by id.
func (r *PostgresRepository) GetSubmission(ctx context.Context, id int64) (*Submission, error) {
	const q = `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1 LIMIT 1;`
	sub, err := scanSubmission(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// ListSubmissions returns submissions matching filter, newest first.
func (r *PostgresRepository) ListSubmissions(ctx context.Context, filter StatusFilter) ([]Submission, error) {
	q := `SELECT ` + submissionColumns + ` FROM submissions`
	var args []any
	if !filter.all() {
		q += ` WHERE status = $1`
		args = append(args, string(filter))
	}
	q += ` ORDER BY submitted_at DESC, id DESC;`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

// UpdateSubmissionStatus sets the review status. Nil comments keep the stored comments.
func (r *PostgresRepository) UpdateSubmissionStatus(ctx context.Context, id int64, status SubmissionStatus, comments *string) error {
	const q = `
UPDATE submissions
SET status = $2,
    comments = COALESCE($3, comments),
    reviewed_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, string(status), comments)
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}
	return nil
}

// SubmissionStats counts submissions per status.
func (r *PostgresRepository) SubmissionStats(ctx context.Context) (*SubmissionStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("submission stats: %w", err)
	}
	defer rows.Close()

	stats := &SubmissionStats{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan submission stats: %w", err)
		}
		stats.add(SubmissionStatus(status), n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission stats: %w", err)
	}
	return stats, nil
}

// DeleteSubmissionsBefore removes submissions submitted before cutoff.
func (r *PostgresRepository) DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM submissions WHERE submitted_at < $1;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	r.logger.Info("deleted old submissions", "cutoff", cutoff, "count", ct.RowsAffected())
	return ct.RowsAffected(), nil
}

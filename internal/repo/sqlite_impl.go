package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// -- Conversations --

func (r *SQLiteRepository) GetConversation(ctx context.Context, userID string) (*ConversationRecord, error) {
	return sqliteGetConversation(ctx, r.db, userID)
}

func (r *SQLiteRepository) ResetConversation(ctx context.Context, userID string) error {
	return r.ApplyConversation(ctx, userID, resetUpdate())
}

func (r *SQLiteRepository) ApplyConversation(ctx context.Context, userID string, update ConversationUpdate) error {
	err := withSQLTx(ctx, r.db, func(tx *sql.Tx) error {
		return sqliteApplyConversation(ctx, tx, userID, update, r.now())
	})
	if err != nil {
		return fmt.Errorf("apply conversation: %w", err)
	}
	return nil
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteGetConversation(ctx context.Context, q sqlQuerier, userID string) (*ConversationRecord, error) {
	const query = `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = ? LIMIT 1;`
	rec, err := scanConversation(q.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return rec, nil
}

func sqliteApplyConversation(ctx context.Context, q sqlQuerier, userID string, update ConversationUpdate, now time.Time) error {
	existing, err := sqliteGetConversation(ctx, q, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	merged := update.Apply(userID, existing, now)

	const upsert = `
INSERT INTO conversations (` + conversationColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    display_name = excluded.display_name,
    handle = excluded.handle,
    state = excluded.state,
    name = excluded.name,
    address = excluded.address,
    phone = excluded.phone,
    media_reference = excluded.media_reference,
    updated_at = excluded.updated_at;
`
	if _, err := q.ExecContext(ctx, upsert, conversationArgs(merged)...); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// -- Submissions --

func (r *SQLiteRepository) CreateSubmission(ctx context.Context, sub NewSubmission) (*Submission, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return sqliteInsertSubmission(ctx, r.db, sub, r.now())
}

func (r *SQLiteRepository) CompleteConversation(ctx context.Context, userID string, sub NewSubmission) (*Submission, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	var created *Submission
	err := withSQLTx(ctx, r.db, func(tx *sql.Tx) error {
		now := r.now()
		inserted, err := sqliteInsertSubmission(ctx, tx, sub, now)
		if err != nil {
			return err
		}
		if err := sqliteApplyConversation(ctx, tx, userID, resetUpdate(), now); err != nil {
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

func sqliteInsertSubmission(ctx context.Context, q sqlQuerier, sub NewSubmission, now time.Time) (*Submission, error) {
	const query = `
INSERT INTO submissions (user_id, name, address, phone, handle, media_reference, submitted_at, status)
VALUES (?, ?, ?, ?, ?, ?, ?, 'pending');
`
	res, err := q.ExecContext(ctx, query,
		sub.UserID,
		sub.Name,
		sub.Address,
		sub.Phone,
		nullable(sub.Handle),
		sub.MediaReference,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert submission id: %w", err)
	}

	// Read back through the table so TIMESTAMP columns decode the same way as every other query.
	const readBack = `SELECT ` + submissionColumns + ` FROM submissions WHERE id = ?;`
	inserted, err := scanSubmission(q.QueryRowContext(ctx, readBack, id))
	if err != nil {
		return nil, fmt.Errorf("read inserted submission: %w", err)
	}
	return inserted, nil
}

func (r *SQLiteRepository) GetSubmission(ctx context.Context, id int64) (*Submission, error) {
	const q = `SELECT ` + submissionColumns + ` FROM submissions WHERE id = ? LIMIT 1;`
	sub, err := scanSubmission(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (r *SQLiteRepository) ListSubmissions(ctx context.Context, filter StatusFilter) ([]Submission, error) {
	q := `SELECT ` + submissionColumns + ` FROM submissions`
	var args []any
	if !filter.all() {
		q += ` WHERE status = ?`
		args = append(args, string(filter))
	}
	q += ` ORDER BY submitted_at DESC, id DESC;`

	rows, err := r.db.QueryContext(ctx, q, args...)
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

func (r *SQLiteRepository) UpdateSubmissionStatus(ctx context.Context, id int64, status SubmissionStatus, comments *string) error {
	const q = `
UPDATE submissions
SET status = ?,
    comments = COALESCE(?, comments),
    reviewed_at = ?
WHERE id = ?;
`
	res, err := r.db.ExecContext(ctx, q, string(status), comments, r.now(), id)
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) SubmissionStats(ctx context.Context) (*SubmissionStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status;`)
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

func (r *SQLiteRepository) DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM submissions WHERE submitted_at < ?;`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete submissions: %w", err)
	}
	n, _ := res.RowsAffected()
	r.logger.Info("deleted old submissions", "cutoff", cutoff, "count", n)
	return n, nil
}

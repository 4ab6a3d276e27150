package repo

import "time"

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const conversationColumns = `user_id, display_name, handle, state, name, address, phone, media_reference, created_at, updated_at`

const submissionColumns = `id, user_id, name, address, phone, handle, media_reference, submitted_at, status, comments, reviewed_at`

func scanConversation(row rowScanner) (*ConversationRecord, error) {
	var (
		rec                            ConversationRecord
		displayName, handle            *string
		state                          string
		name, address, phone, mediaRef *string
		createdAt, updatedAt           time.Time
	)
	if err := row.Scan(&rec.UserID, &displayName, &handle, &state, &name, &address, &phone, &mediaRef, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.DisplayName = deref(displayName)
	rec.Handle = deref(handle)
	rec.State = ConversationState(state)
	rec.Answers = Answers{
		Name:           deref(name),
		Address:        deref(address),
		Phone:          deref(phone),
		MediaReference: deref(mediaRef),
	}
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return &rec, nil
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		sub              Submission
		handle, comments *string
		status           string
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Name, &sub.Address, &sub.Phone, &handle, &sub.MediaReference, &sub.SubmittedAt, &status, &comments, &sub.ReviewedAt); err != nil {
		return nil, err
	}
	sub.Handle = deref(handle)
	sub.Comments = deref(comments)
	sub.Status = SubmissionStatus(status)
	return &sub, nil
}

// conversationArgs returns the upsert parameters in conversationColumns order.
func conversationArgs(rec ConversationRecord) []any {
	return []any{
		rec.UserID,
		nullable(rec.DisplayName),
		nullable(rec.Handle),
		string(rec.State),
		nullable(rec.Answers.Name),
		nullable(rec.Answers.Address),
		nullable(rec.Answers.Phone),
		nullable(rec.Answers.MediaReference),
		rec.CreatedAt,
		rec.UpdatedAt,
	}
}

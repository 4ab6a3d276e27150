package repo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a conversation or submission does not exist.
var ErrNotFound = errors.New("not found")

// ErrMissingField is returned when a required submission field is empty.
var ErrMissingField = errors.New("missing required field")

// ConversationState is the persisted step of a user's intake conversation.
type ConversationState string

const (
	StateIdle              ConversationState = "idle"
	StateCollectingName    ConversationState = "collecting_name"
	StateCollectingAddress ConversationState = "collecting_address"
	StateCollectingPhone   ConversationState = "collecting_phone"
	StateCollectingMedia   ConversationState = "collecting_media"
	StateReadyToSubmit     ConversationState = "ready_to_submit"
	// Submitted and Cancelled are transition outcomes; the stored record folds back to idle.
	StateSubmitted ConversationState = "submitted"
	StateCancelled ConversationState = "cancelled"
)

// Answers holds the form fields collected so far. Empty means not yet collected.
type Answers struct {
	Name           string
	Address        string
	Phone          string
	MediaReference string
}

// ConversationRecord represents the conversations table row.
type ConversationRecord struct {
	UserID      string
	DisplayName string
	Handle      string
	State       ConversationState
	Answers     Answers
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConversationUpdate lists every field a conversation mutation may touch.
// Nil pointers leave the stored value untouched. ClearAnswers empties all
// answers before the remaining fields are applied.
type ConversationUpdate struct {
	State          *ConversationState
	DisplayName    *string
	Handle         *string
	Name           *string
	Address        *string
	Phone          *string
	MediaReference *string
	ClearAnswers   bool
}

// Apply merges the update into rec and stamps UpdatedAt. A nil rec is treated
// as a fresh idle record for userID.
func (u ConversationUpdate) Apply(userID string, rec *ConversationRecord, now time.Time) ConversationRecord {
	var out ConversationRecord
	if rec != nil {
		out = *rec
	} else {
		out = ConversationRecord{UserID: userID, State: StateIdle, CreatedAt: now}
	}

	if u.ClearAnswers {
		out.Answers = Answers{}
	}
	if u.State != nil {
		out.State = *u.State
	}
	if u.DisplayName != nil {
		out.DisplayName = *u.DisplayName
	}
	if u.Handle != nil {
		out.Handle = *u.Handle
	}
	if u.Name != nil {
		out.Answers.Name = *u.Name
	}
	if u.Address != nil {
		out.Answers.Address = *u.Address
	}
	if u.Phone != nil {
		out.Answers.Phone = *u.Phone
	}
	if u.MediaReference != nil {
		out.Answers.MediaReference = *u.MediaReference
	}
	out.UpdatedAt = now
	return out
}

// resetUpdate returns the update that folds a record back to idle.
func resetUpdate() ConversationUpdate {
	idle := StateIdle
	return ConversationUpdate{State: &idle, ClearAnswers: true}
}

// SubmissionStatus is the review state of a submission.
type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusApproved SubmissionStatus = "approved"
	StatusRejected SubmissionStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ParseStatus normalises user supplied status text.
func ParseStatus(raw string) (SubmissionStatus, error) {
	s := SubmissionStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown submission status %q", raw)
	}
	return s, nil
}

// StatusFilter selects submissions by status. The zero value and FilterAll match everything.
type StatusFilter string

// FilterAll matches submissions of every status.
const FilterAll StatusFilter = "all"

// ParseStatusFilter accepts a status name or "all".
func ParseStatusFilter(raw string) (StatusFilter, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == string(FilterAll) {
		return FilterAll, nil
	}
	s, err := ParseStatus(raw)
	if err != nil {
		return "", err
	}
	return StatusFilter(s), nil
}

func (f StatusFilter) all() bool {
	return f == "" || f == FilterAll
}

// NewSubmission carries the fields copied out of a finished conversation.
type NewSubmission struct {
	UserID         string
	Name           string
	Address        string
	Phone          string
	Handle         string
	MediaReference string
}

// Validate checks required field presence. Handle is optional.
func (n NewSubmission) Validate() error {
	for _, f := range []struct{ name, val string }{
		{"user_id", n.UserID},
		{"name", n.Name},
		{"address", n.Address},
		{"phone", n.Phone},
		{"media_reference", n.MediaReference},
	} {
		if strings.TrimSpace(f.val) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	return nil
}

// Submission represents a row in submissions table.
type Submission struct {
	ID             int64            `json:"id"`
	UserID         string           `json:"user_id"`
	Name           string           `json:"name"`
	Address        string           `json:"address"`
	Phone          string           `json:"phone"`
	Handle         string           `json:"handle,omitempty"`
	MediaReference string           `json:"media_reference"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	Status         SubmissionStatus `json:"status"`
	Comments       string           `json:"comments,omitempty"`
	ReviewedAt     *time.Time       `json:"reviewed_at,omitempty"`
}

// SubmissionStats counts submissions per status.
type SubmissionStats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
}

func (s *SubmissionStats) add(status SubmissionStatus, n int64) {
	s.Total += n
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusApproved:
		s.Approved += n
	case StatusRejected:
		s.Rejected += n
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

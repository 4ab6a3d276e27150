package convo

import (
	"errors"
	"fmt"

	"intake-bot/internal/repo"
)

var (
	// ErrValidation marks an empty or malformed answer.
	ErrValidation = errors.New("invalid answer")
	// ErrNotStarted marks an event received without an active conversation.
	ErrNotStarted = errors.New("conversation not started")
	// ErrWrongStep marks an event whose type does not match the current step.
	ErrWrongStep = errors.New("event does not match current step")
	// ErrUpload marks a media upload collaborator failure.
	ErrUpload = errors.New("media upload failed")
	// ErrPersistence marks a conversation or submission store failure.
	ErrPersistence = errors.New("store failure")
)

// StepError reports a rejected event. Kind is one of the package sentinels,
// State is the state the conversation stayed in and Cause is the underlying error, if any.
type StepError struct {
	Kind   error
	State  repo.ConversationState
	Detail string
	Cause  error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s (state=%s)", e.Kind, e.State)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StepError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func stepError(kind error, state repo.ConversationState, detail string) *StepError {
	return &StepError{Kind: kind, State: state, Detail: detail}
}

func persistenceError(state repo.ConversationState, op string, err error) *StepError {
	return &StepError{Kind: ErrPersistence, State: state, Detail: op, Cause: err}
}

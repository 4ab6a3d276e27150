package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/looplab/fsm"

	"intake-bot/internal/repo"
)

// EventKind identifies an inbound conversation event.
type EventKind string

const (
	EventStart   EventKind = "start"
	EventText    EventKind = "text"
	EventMedia   EventKind = "media"
	EventConfirm EventKind = "confirm"
	EventCancel  EventKind = "cancel"
	EventStatus  EventKind = "status"
	EventHelp    EventKind = "help"
)

// Media is an audio attachment carried by an EventMedia event.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
}

// Event is a single inbound message from a chat user.
type Event struct {
	UserID      string
	DisplayName string
	Handle      string
	Kind        EventKind
	Text        string
	Media       *Media
	// BareCommand marks a command typed without the leading "/". Text holds
	// the raw message so it can still be taken as an answer.
	BareCommand bool
}

// Action is the side effect the engine performs for a decision.
type Action int

const (
	// ActionIgnore leaves the conversation untouched.
	ActionIgnore Action = iota
	ActionStart
	ActionStoreAnswer
	ActionUploadMedia
	ActionSubmit
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStoreAnswer:
		return "store_answer"
	case ActionUploadMedia:
		return "upload_media"
	case ActionSubmit:
		return "submit"
	case ActionCancel:
		return "cancel"
	default:
		return "ignore"
	}
}

// Decision is the outcome of feeding an event to the state machine.
type Decision struct {
	From   repo.ConversationState
	To     repo.ConversationState
	Action Action
}

const (
	fsmStart   = "start"
	fsmAnswer  = "answer"
	fsmMedia   = "media"
	fsmConfirm = "confirm"
	fsmCancel  = "cancel"
)

var collectingStates = []repo.ConversationState{
	repo.StateCollectingName,
	repo.StateCollectingAddress,
	repo.StateCollectingPhone,
	repo.StateCollectingMedia,
}

func stateNames(states ...repo.ConversationState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// transitions is the full forward order of an intake conversation.
var transitions = fsm.Events{
	{Name: fsmStart, Src: stateNames(append([]repo.ConversationState{repo.StateIdle, repo.StateReadyToSubmit}, collectingStates...)...), Dst: string(repo.StateCollectingName)},
	{Name: fsmAnswer, Src: stateNames(repo.StateCollectingName), Dst: string(repo.StateCollectingAddress)},
	{Name: fsmAnswer, Src: stateNames(repo.StateCollectingAddress), Dst: string(repo.StateCollectingPhone)},
	{Name: fsmAnswer, Src: stateNames(repo.StateCollectingPhone), Dst: string(repo.StateCollectingMedia)},
	{Name: fsmMedia, Src: stateNames(repo.StateCollectingMedia), Dst: string(repo.StateReadyToSubmit)},
	{Name: fsmConfirm, Src: stateNames(repo.StateReadyToSubmit), Dst: string(repo.StateSubmitted)},
	{Name: fsmCancel, Src: stateNames(append([]repo.ConversationState{repo.StateReadyToSubmit}, collectingStates...)...), Dst: string(repo.StateCancelled)},
}

// Machine decides conversation transitions. It holds no per-user state.
type Machine struct {
	// MaxMediaBytes rejects larger attachments when positive.
	MaxMediaBytes int64
}

// Decide maps the current state and an inbound event to the next state and
// the action the engine must perform. Rejected events return a *StepError.
func (m Machine) Decide(ctx context.Context, state repo.ConversationState, evt Event) (Decision, error) {
	state = normalizeState(state)
	ignore := Decision{From: state, To: state, Action: ActionIgnore}

	if evt.Kind == EventStart {
		return m.fire(ctx, state, fsmStart, ActionStart)
	}
	if evt.Kind == EventHelp || evt.Kind == EventStatus {
		return ignore, nil
	}
	if state == repo.StateIdle {
		return ignore, stepError(ErrNotStarted, state, "")
	}

	switch evt.Kind {
	case EventText:
		switch state {
		case repo.StateCollectingName, repo.StateCollectingAddress, repo.StateCollectingPhone:
			if strings.TrimSpace(evt.Text) == "" {
				return ignore, stepError(ErrValidation, state, "empty answer")
			}
			return m.fire(ctx, state, fsmAnswer, ActionStoreAnswer)
		case repo.StateCollectingMedia:
			return ignore, stepError(ErrWrongStep, state, "expected an audio attachment")
		}
	case EventMedia:
		switch state {
		case repo.StateCollectingMedia:
			if err := m.validateMedia(evt.Media); err != nil {
				return ignore, stepError(ErrValidation, state, err.Error())
			}
			return m.fire(ctx, state, fsmMedia, ActionUploadMedia)
		case repo.StateCollectingName, repo.StateCollectingAddress, repo.StateCollectingPhone:
			return ignore, stepError(ErrWrongStep, state, "expected a text answer")
		}
	case EventConfirm:
		if state == repo.StateReadyToSubmit {
			return m.fire(ctx, state, fsmConfirm, ActionSubmit)
		}
		return ignore, stepError(ErrWrongStep, state, "nothing to submit yet")
	case EventCancel:
		return m.fire(ctx, state, fsmCancel, ActionCancel)
	default:
		return ignore, stepError(ErrWrongStep, state, fmt.Sprintf("unsupported event %q", evt.Kind))
	}

	// ready_to_submit ignores everything except confirm and cancel.
	return ignore, nil
}

func (m Machine) fire(ctx context.Context, from repo.ConversationState, event string, action Action) (Decision, error) {
	f := fsm.NewFSM(string(from), transitions, nil)
	if err := f.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			return Decision{From: from, To: from}, &StepError{Kind: ErrWrongStep, State: from, Cause: err}
		}
	}
	return Decision{From: from, To: repo.ConversationState(f.Current()), Action: action}, nil
}

func (m Machine) validateMedia(media *Media) error {
	if media == nil || len(media.Data) == 0 {
		return errors.New("empty attachment")
	}
	if !isAudio(media.MimeType) {
		return fmt.Errorf("unsupported media type %q", media.MimeType)
	}
	if m.MaxMediaBytes > 0 && int64(len(media.Data)) > m.MaxMediaBytes {
		return fmt.Errorf("attachment is %d bytes, limit is %d", len(media.Data), m.MaxMediaBytes)
	}
	return nil
}

func isAudio(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "application/ogg")
}

// normalizeState folds empty and terminal outcome states back to idle.
// asAnswer turns a bare command word into a text answer while a text step is
// being collected. Only "/"-prefixed commands act as commands there.
func asAnswer(state repo.ConversationState, evt Event) Event {
	if !evt.BareCommand || strings.TrimSpace(evt.Text) == "" {
		return evt
	}
	switch state {
	case repo.StateCollectingName, repo.StateCollectingAddress, repo.StateCollectingPhone:
		evt.Kind = EventText
		evt.BareCommand = false
	}
	return evt
}

func normalizeState(state repo.ConversationState) repo.ConversationState {
	switch state {
	case "", repo.StateSubmitted, repo.StateCancelled:
		return repo.StateIdle
	}
	return state
}

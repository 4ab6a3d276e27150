package convo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-bot/internal/repo"
)

func audio(n int) *Media {
	return &Media{Data: make([]byte, n), MimeType: "audio/ogg; codecs=opus"}
}

func TestDecideForwardOrder(t *testing.T) {
	m := Machine{}
	ctx := context.Background()

	steps := []struct {
		from   repo.ConversationState
		evt    Event
		to     repo.ConversationState
		action Action
	}{
		{repo.StateIdle, Event{Kind: EventStart}, repo.StateCollectingName, ActionStart},
		{repo.StateCollectingName, Event{Kind: EventText, Text: "Jane Doe"}, repo.StateCollectingAddress, ActionStoreAnswer},
		{repo.StateCollectingAddress, Event{Kind: EventText, Text: "12 Main St"}, repo.StateCollectingPhone, ActionStoreAnswer},
		{repo.StateCollectingPhone, Event{Kind: EventText, Text: "555-0100"}, repo.StateCollectingMedia, ActionStoreAnswer},
		{repo.StateCollectingMedia, Event{Kind: EventMedia, Media: audio(10)}, repo.StateReadyToSubmit, ActionUploadMedia},
		{repo.StateReadyToSubmit, Event{Kind: EventConfirm}, repo.StateSubmitted, ActionSubmit},
	}
	for _, step := range steps {
		d, err := m.Decide(ctx, step.from, step.evt)
		require.NoError(t, err, "from %s", step.from)
		assert.Equal(t, step.from, d.From)
		assert.Equal(t, step.to, d.To, "from %s", step.from)
		assert.Equal(t, step.action, d.Action, "from %s", step.from)
	}
}

func TestDecideStartRestartsFromAnyState(t *testing.T) {
	m := Machine{}
	for _, state := range []repo.ConversationState{
		repo.StateIdle, repo.StateCollectingName, repo.StateCollectingPhone, repo.StateCollectingMedia,
		repo.StateReadyToSubmit, repo.StateSubmitted, repo.StateCancelled, "",
	} {
		d, err := m.Decide(context.Background(), state, Event{Kind: EventStart})
		require.NoError(t, err, state)
		assert.Equal(t, repo.StateCollectingName, d.To, state)
		assert.Equal(t, ActionStart, d.Action, state)
	}
}

func TestDecideRequiresStartedConversation(t *testing.T) {
	m := Machine{}
	for _, kind := range []EventKind{EventText, EventMedia, EventConfirm, EventCancel} {
		d, err := m.Decide(context.Background(), repo.StateIdle, Event{Kind: kind, Text: "hi", Media: audio(1)})
		require.ErrorIs(t, err, ErrNotStarted, kind)
		assert.Equal(t, ActionIgnore, d.Action)
		assert.Equal(t, repo.StateIdle, d.To)
	}
}

func TestDecideRejectsBlankAnswers(t *testing.T) {
	m := Machine{}
	for _, state := range []repo.ConversationState{repo.StateCollectingName, repo.StateCollectingAddress, repo.StateCollectingPhone} {
		d, err := m.Decide(context.Background(), state, Event{Kind: EventText, Text: "  \n\t"})
		require.ErrorIs(t, err, ErrValidation, state)
		assert.Equal(t, state, d.To)

		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, state, stepErr.State)
	}
}

func TestDecideRejectsMismatchedEventTypes(t *testing.T) {
	m := Machine{}
	ctx := context.Background()

	_, err := m.Decide(ctx, repo.StateCollectingMedia, Event{Kind: EventText, Text: "here it is"})
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = m.Decide(ctx, repo.StateCollectingAddress, Event{Kind: EventMedia, Media: audio(5)})
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = m.Decide(ctx, repo.StateCollectingPhone, Event{Kind: EventConfirm})
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestDecideValidatesMedia(t *testing.T) {
	m := Machine{MaxMediaBytes: 8}
	ctx := context.Background()

	cases := map[string]*Media{
		"nil":     nil,
		"empty":   {MimeType: "audio/ogg"},
		"image":   {Data: []byte("x"), MimeType: "image/jpeg"},
		"too big": audio(9),
		"no mime": {Data: []byte("x")},
	}
	for name, media := range cases {
		_, err := m.Decide(ctx, repo.StateCollectingMedia, Event{Kind: EventMedia, Media: media})
		assert.ErrorIs(t, err, ErrValidation, name)
	}

	d, err := m.Decide(ctx, repo.StateCollectingMedia, Event{Kind: EventMedia, Media: &Media{Data: []byte("x"), MimeType: "application/ogg"}})
	require.NoError(t, err)
	assert.Equal(t, ActionUploadMedia, d.Action)
}

func TestDecideCancel(t *testing.T) {
	m := Machine{}
	for _, state := range []repo.ConversationState{repo.StateCollectingName, repo.StateCollectingMedia, repo.StateReadyToSubmit} {
		d, err := m.Decide(context.Background(), state, Event{Kind: EventCancel})
		require.NoError(t, err, state)
		assert.Equal(t, repo.StateCancelled, d.To)
		assert.Equal(t, ActionCancel, d.Action)
	}
}

func TestDecideReadyToSubmitIgnoresOtherInput(t *testing.T) {
	m := Machine{}
	for _, evt := range []Event{{Kind: EventText, Text: "hello"}, {Kind: EventMedia, Media: audio(3)}, {Kind: EventStatus}} {
		d, err := m.Decide(context.Background(), repo.StateReadyToSubmit, evt)
		require.NoError(t, err, evt.Kind)
		assert.Equal(t, ActionIgnore, d.Action)
		assert.Equal(t, repo.StateReadyToSubmit, d.To)
	}
}

func TestStepErrorUnwrap(t *testing.T) {
	cause := assert.AnError
	err := &StepError{Kind: ErrUpload, State: repo.StateCollectingMedia, Cause: cause}

	assert.ErrorIs(t, err, ErrUpload)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "collecting_media")
}

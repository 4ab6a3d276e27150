package convo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-bot/internal/metrics"
	"intake-bot/internal/repo"
	"intake-bot/internal/repo/repotest"
)

type fakeUploader struct {
	mu        sync.Mutex
	ref       string
	err       error
	filenames []string
}

func (f *fakeUploader) Upload(_ context.Context, _ []byte, filename, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filenames = append(f.filenames, filename)
	if f.err != nil {
		return "", f.err
	}
	return f.ref, nil
}

type fakeLedger struct {
	rows []repo.Submission
	err  error
}

func (f *fakeLedger) Append(_ context.Context, sub repo.Submission) error {
	f.rows = append(f.rows, sub)
	return f.err
}

type fakeNotifier struct {
	subs []repo.Submission
	err  error
}

func (f *fakeNotifier) NotifySubmission(_ context.Context, sub repo.Submission) error {
	f.subs = append(f.subs, sub)
	return f.err
}

type testEngine struct {
	*Engine
	store    *repo.SQLiteRepository
	uploader *fakeUploader
	ledger   *fakeLedger
	notifier *fakeNotifier
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store := repotest.NewSQLite(t)
	te := &testEngine{
		store:    store,
		uploader: &fakeUploader{ref: "ref123"},
		ledger:   &fakeLedger{},
		notifier: &fakeNotifier{},
	}
	te.Engine = New(store, te.uploader, te.ledger, te.notifier, metrics.Registry("test"), repotest.Logger(), EngineConfig{
		OrganizationName: "Choir",
		MaxMediaBytes:    1 << 20,
	})
	te.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }
	return te
}

func (te *testEngine) send(t *testing.T, evt Event) *Outcome {
	t.Helper()
	if evt.UserID == "" {
		evt.UserID = "u1"
	}
	out, err := te.Handle(context.Background(), evt)
	require.NoError(t, err, "event %s", evt.Kind)
	return out
}

func (te *testEngine) state(t *testing.T, userID string) *repo.ConversationRecord {
	t.Helper()
	rec, err := te.store.GetConversation(context.Background(), userID)
	require.NoError(t, err)
	return rec
}

func voiceNote() *Media {
	return &Media{Data: []byte("OggS-voice"), MimeType: "audio/ogg; codecs=opus"}
}

func (te *testEngine) fillAnswers(t *testing.T) {
	t.Helper()
	te.send(t, Event{Kind: EventStart, DisplayName: "Jane", Handle: "jane"})
	te.send(t, Event{Kind: EventText, Text: "Jane Doe"})
	te.send(t, Event{Kind: EventText, Text: "12 Main St"})
	te.send(t, Event{Kind: EventText, Text: "555-0100"})
}

func TestEngineFullIntakeCreatesPendingSubmission(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	out := te.send(t, Event{Kind: EventStart, DisplayName: "Jane", Handle: "jane"})
	assert.Equal(t, repo.StateCollectingName, out.State)
	assert.Contains(t, out.Reply, "Welcome to Choir")

	te.send(t, Event{Kind: EventText, Text: "Jane Doe"})
	te.send(t, Event{Kind: EventText, Text: "12 Main St"})
	out = te.send(t, Event{Kind: EventText, Text: "555-0100"})
	assert.Equal(t, repo.StateCollectingMedia, out.State)

	out = te.send(t, Event{Kind: EventMedia, Handle: "jane", Media: voiceNote()})
	assert.Equal(t, repo.StateReadyToSubmit, out.State)
	assert.Contains(t, out.Reply, "12 Main St")
	assert.Equal(t, []string{"jane_20240309_100000.ogg"}, te.uploader.filenames)
	assert.Equal(t, "ref123", te.state(t, "u1").Answers.MediaReference)

	out = te.send(t, Event{Kind: EventConfirm})
	require.NotNil(t, out.Submission)
	assert.Equal(t, ActionSubmit, out.Action)
	assert.Contains(t, out.Reply, "Application submitted")

	subs, err := te.store.ListSubmissions(ctx, repo.FilterAll)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, "u1", sub.UserID)
	assert.Equal(t, "Jane Doe", sub.Name)
	assert.Equal(t, "12 Main St", sub.Address)
	assert.Equal(t, "555-0100", sub.Phone)
	assert.Equal(t, "ref123", sub.MediaReference)
	assert.Equal(t, "jane", sub.Handle)
	assert.Equal(t, repo.StatusPending, sub.Status)

	rec := te.state(t, "u1")
	assert.Equal(t, repo.StateIdle, rec.State)
	assert.Equal(t, repo.Answers{}, rec.Answers)

	require.Len(t, te.ledger.rows, 1)
	assert.Equal(t, sub.ID, te.ledger.rows[0].ID)
	require.Len(t, te.notifier.subs, 1)
	assert.Equal(t, sub.ID, te.notifier.subs[0].ID)
}

func TestEngineRestartClearsAnswers(t *testing.T) {
	te := newTestEngine(t)

	te.send(t, Event{Kind: EventStart})
	te.send(t, Event{Kind: EventText, Text: "Jane Doe"})
	te.send(t, Event{Kind: EventText, Text: "12 Main St"})

	out := te.send(t, Event{Kind: EventStart})
	assert.Equal(t, repo.StateCollectingPhone, out.From)
	assert.Equal(t, repo.StateCollectingName, out.State)

	rec := te.state(t, "u1")
	assert.Equal(t, repo.StateCollectingName, rec.State)
	assert.Equal(t, repo.Answers{}, rec.Answers)
}

func TestEngineRestartFromReadyToSubmit(t *testing.T) {
	te := newTestEngine(t)
	te.fillAnswers(t)
	te.send(t, Event{Kind: EventMedia, Media: voiceNote()})

	out := te.send(t, Event{Kind: EventStart})
	assert.Equal(t, repo.StateReadyToSubmit, out.From)
	assert.Equal(t, repo.StateCollectingName, out.State)

	rec := te.state(t, "u1")
	assert.Equal(t, repo.StateCollectingName, rec.State)
	assert.Equal(t, repo.Answers{}, rec.Answers)

	subs, err := te.store.ListSubmissions(context.Background(), repo.FilterAll)
	require.NoError(t, err)
	assert.Empty(t, subs, "restart discards the unsent application")
}

func TestEngineRejectsEventsBeforeStart(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.Handle(context.Background(), Event{UserID: "u1", Kind: EventText, Text: "hello"})
	require.ErrorIs(t, err, ErrNotStarted)
	assert.Contains(t, ReplyForError(err), "start")

	_, err = te.store.GetConversation(context.Background(), "u1")
	assert.ErrorIs(t, err, repo.ErrNotFound, "rejected events do not create records")
}

func TestEngineBlankAnswerKeepsState(t *testing.T) {
	te := newTestEngine(t)
	te.send(t, Event{Kind: EventStart})

	_, err := te.Handle(context.Background(), Event{UserID: "u1", Kind: EventText, Text: "   "})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, ReplyForError(err), "full name")
	assert.Equal(t, repo.StateCollectingName, te.state(t, "u1").State)
}

func TestEngineTextAtMediaStepIsWrongStep(t *testing.T) {
	te := newTestEngine(t)
	te.fillAnswers(t)

	_, err := te.Handle(context.Background(), Event{UserID: "u1", Kind: EventText, Text: "sending soon"})
	require.ErrorIs(t, err, ErrWrongStep)
	assert.Contains(t, ReplyForError(err), "audio sample")
	assert.Equal(t, repo.StateCollectingMedia, te.state(t, "u1").State)
}

func TestEngineUploadFailureKeepsState(t *testing.T) {
	te := newTestEngine(t)
	te.fillAnswers(t)
	te.uploader.err = errors.New("disk full")

	_, err := te.Handle(context.Background(), Event{UserID: "u1", Kind: EventMedia, Media: voiceNote()})
	require.ErrorIs(t, err, ErrUpload)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, ReplyForError(err), "processing your audio")

	rec := te.state(t, "u1")
	assert.Equal(t, repo.StateCollectingMedia, rec.State)
	assert.Empty(t, rec.Answers.MediaReference)
	assert.Equal(t, "555-0100", rec.Answers.Phone)

	te.uploader.err = nil
	out := te.send(t, Event{Kind: EventMedia, Media: voiceNote()})
	assert.Equal(t, repo.StateReadyToSubmit, out.State)
}

func TestEngineCancelResetsConversation(t *testing.T) {
	te := newTestEngine(t)
	te.send(t, Event{Kind: EventStart})
	te.send(t, Event{Kind: EventText, Text: "Jane Doe"})

	out := te.send(t, Event{Kind: EventCancel})
	assert.Equal(t, ActionCancel, out.Action)
	assert.Equal(t, cancelledMessage, out.Reply)

	rec := te.state(t, "u1")
	assert.Equal(t, repo.StateIdle, rec.State)
	assert.Equal(t, repo.Answers{}, rec.Answers)

	subs, err := te.store.ListSubmissions(context.Background(), repo.FilterAll)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestEngineUsesSenderFileNameExtension(t *testing.T) {
	te := newTestEngine(t)
	te.fillAnswers(t)

	te.send(t, Event{Kind: EventMedia, Media: &Media{Data: []byte("fLaC"), MimeType: "audio/x-flac-custom", FileName: "take1.flac"}})
	assert.Equal(t, []string{"jane_20240309_100000.flac"}, te.uploader.filenames)
}

func TestEngineSideEffectFailuresDoNotUndoSubmission(t *testing.T) {
	te := newTestEngine(t)
	te.ledger.err = errors.New("ledger unavailable")
	te.notifier.err = errors.New("reviewer offline")
	te.fillAnswers(t)
	te.send(t, Event{Kind: EventMedia, Media: voiceNote()})

	out := te.send(t, Event{Kind: EventConfirm})
	require.NotNil(t, out.Submission)

	got, err := te.store.GetSubmission(context.Background(), out.Submission.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.StatusPending, got.Status)
}

func TestEngineBareCommandWordIsAnswerDuringTextSteps(t *testing.T) {
	te := newTestEngine(t)
	te.send(t, Event{Kind: EventStart, DisplayName: "Jane", Handle: "jane"})

	out := te.send(t, Event{Kind: EventStart, BareCommand: true, Text: "Start"})
	assert.Equal(t, ActionStoreAnswer, out.Action)
	assert.Equal(t, repo.StateCollectingAddress, out.State)
	assert.Equal(t, "Start", te.state(t, "u1").Answers.Name)

	out = te.send(t, Event{Kind: EventHelp, BareCommand: true, Text: "Help"})
	assert.Equal(t, repo.StateCollectingPhone, out.State)
	assert.Equal(t, "Help", te.state(t, "u1").Answers.Address)

	out = te.send(t, Event{Kind: EventStatus})
	assert.Equal(t, repo.StateCollectingPhone, out.State, "slash commands still act as commands")

	out = te.send(t, Event{Kind: EventStart})
	assert.Equal(t, repo.StateCollectingName, out.State)
	assert.Empty(t, te.state(t, "u1").Answers.Name)
}

func TestEngineBareCommandWordIsCommandOutsideTextSteps(t *testing.T) {
	te := newTestEngine(t)

	out := te.send(t, Event{Kind: EventStart, BareCommand: true, Text: "start"})
	assert.Equal(t, ActionStart, out.Action)
	assert.Equal(t, repo.StateCollectingName, out.State)

	te.fillAnswers(t)
	te.send(t, Event{Kind: EventMedia, Media: &Media{Data: []byte("OggS"), MimeType: "audio/ogg"}})
	out = te.send(t, Event{Kind: EventConfirm, BareCommand: true, Text: "submit"})
	assert.Equal(t, ActionSubmit, out.Action)
	require.NotNil(t, out.Submission)
}

func TestEngineStatusAndHelpDoNotChangeState(t *testing.T) {
	te := newTestEngine(t)

	out := te.send(t, Event{Kind: EventHelp})
	assert.Contains(t, out.Reply, "*start*")
	out = te.send(t, Event{Kind: EventStatus})
	assert.Equal(t, notStarted, out.Reply)

	te.send(t, Event{Kind: EventStart})
	te.send(t, Event{Kind: EventText, Text: "Jane Doe"})
	out = te.send(t, Event{Kind: EventStatus})
	assert.Contains(t, out.Reply, "address")
	assert.Equal(t, repo.StateCollectingAddress, te.state(t, "u1").State)
}

func TestEngineUsersAreIndependent(t *testing.T) {
	te := newTestEngine(t)

	te.send(t, Event{UserID: "a", Kind: EventStart})
	te.send(t, Event{UserID: "b", Kind: EventStart})
	te.send(t, Event{UserID: "a", Kind: EventText, Text: "Alice"})

	assert.Equal(t, repo.StateCollectingAddress, te.state(t, "a").State)
	assert.Equal(t, repo.StateCollectingName, te.state(t, "b").State)
	assert.Empty(t, te.state(t, "b").Answers.Name)
}

type failingStore struct {
	*repo.SQLiteRepository
}

func (failingStore) ApplyConversation(context.Context, string, repo.ConversationUpdate) error {
	return errors.New("database is locked")
}

func TestEnginePersistenceFailure(t *testing.T) {
	store := failingStore{repotest.NewSQLite(t)}
	e := New(store, &fakeUploader{ref: "r"}, nil, nil, nil, repotest.Logger(), EngineConfig{})

	_, err := e.Handle(context.Background(), Event{UserID: "u1", Kind: EventStart})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, ReplyForError(err), "something went wrong")
}

func TestMediaFileName(t *testing.T) {
	at := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "jane_20240309_100000.ogg", MediaFileName("jane", "audio/ogg; codecs=opus", "", at))
	assert.Equal(t, "user_20240309_100000.mp3", MediaFileName("", "audio/mpeg", "", at))
	assert.Equal(t, "j_doe_20240309_100000.bin", MediaFileName("j doe", "audio/x-unknown", "", at))
	assert.Equal(t, "jane_20240309_100000.flac", MediaFileName("jane", "audio/x-unknown", "Demo Take.FLAC", at))
	assert.Equal(t, "jane_20240309_100000.ogg", MediaFileName("jane", "audio/ogg", "take.flac", at), "known MIME types win")
	assert.Equal(t, "jane_20240309_100000.bin", MediaFileName("jane", "audio/x-unknown", "take.../../x y", at))
}

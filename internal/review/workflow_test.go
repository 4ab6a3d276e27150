package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-bot/internal/repo"
	"intake-bot/internal/repo/repotest"
)

type fakeNotifier struct {
	calls []repo.Submission
	err   error
}

func (f *fakeNotifier) NotifyStatus(_ context.Context, sub repo.Submission) error {
	f.calls = append(f.calls, sub)
	return f.err
}

func seed(t *testing.T, store *repo.SQLiteRepository) *repo.Submission {
	t.Helper()
	sub, err := store.CreateSubmission(context.Background(), repo.NewSubmission{
		UserID:         "15550100@s.whatsapp.net",
		Name:           "Jane Doe",
		Address:        "12 Main St",
		Phone:          "555-0100",
		MediaReference: "ref123",
	})
	require.NoError(t, err)
	return sub
}

func TestReviewUpdatesStatusAndNotifies(t *testing.T) {
	store := repotest.NewSQLite(t)
	notifier := &fakeNotifier{}
	w := New(store, notifier, nil, repotest.Logger())
	sub := seed(t, store)

	got, err := w.Review(context.Background(), sub.ID, repo.StatusApproved, " welcome aboard ")
	require.NoError(t, err)
	assert.Equal(t, repo.StatusApproved, got.Status)
	assert.Equal(t, "welcome aboard", got.Comments)
	assert.NotNil(t, got.ReviewedAt)
	assert.Equal(t, sub.Name, got.Name)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, sub.ID, notifier.calls[0].ID)
	assert.Equal(t, repo.StatusApproved, notifier.calls[0].Status)
	assert.Equal(t, "welcome aboard", notifier.calls[0].Comments)
}

func TestReviewUnknownIDHasNoSideEffects(t *testing.T) {
	store := repotest.NewSQLite(t)
	notifier := &fakeNotifier{}
	w := New(store, notifier, nil, repotest.Logger())

	_, err := w.Review(context.Background(), 99, repo.StatusApproved, "ok")
	require.ErrorIs(t, err, repo.ErrNotFound)
	assert.Empty(t, notifier.calls)

	subs, err := store.ListSubmissions(context.Background(), repo.FilterAll)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestReviewNotificationFailureKeepsStatus(t *testing.T) {
	store := repotest.NewSQLite(t)
	notifier := &fakeNotifier{err: errors.New("transport down")}
	w := New(store, notifier, nil, repotest.Logger())
	sub := seed(t, store)

	_, err := w.Review(context.Background(), sub.ID, repo.StatusRejected, "")
	require.NoError(t, err)

	got, err := store.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.StatusRejected, got.Status)
}

func TestReviewRejectsUnknownDecision(t *testing.T) {
	store := repotest.NewSQLite(t)
	w := New(store, nil, nil, repotest.Logger())
	sub := seed(t, store)

	_, err := w.Review(context.Background(), sub.ID, repo.SubmissionStatus("maybe"), "")
	require.ErrorIs(t, err, ErrInvalidDecision)

	got, err := store.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.StatusPending, got.Status)
}

func TestReviewAllowsReversal(t *testing.T) {
	store := repotest.NewSQLite(t)
	w := New(store, nil, nil, repotest.Logger())
	sub := seed(t, store)

	_, err := w.Review(context.Background(), sub.ID, repo.StatusApproved, "ok")
	require.NoError(t, err)
	got, err := w.Review(context.Background(), sub.ID, repo.StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, repo.StatusPending, got.Status)
	assert.Equal(t, "ok", got.Comments)
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-bot/internal/repo"
	"intake-bot/internal/repo/repotest"
)

func useStore(t *testing.T) *repo.SQLiteRepository {
	t.Helper()
	store := repotest.NewSQLite(t)
	orig := openApp
	openApp = func(context.Context) (*app, error) {
		return &app{repo: nopCloser{store}, logger: repotest.Logger()}, nil
	}
	t.Cleanup(func() { openApp = orig })

	for _, name := range []string{"alice", "bob"} {
		_, err := store.CreateSubmission(context.Background(), repo.NewSubmission{
			UserID:         name,
			Name:           name,
			Address:        "12 Main St",
			Phone:          "555-0100",
			Handle:         name,
			MediaReference: "ref-" + name,
		})
		require.NoError(t, err)
	}
	return store
}

// nopCloser leaves closing to the test cleanup.
type nopCloser struct {
	*repo.SQLiteRepository
}

func (nopCloser) Close() {}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatsCommand(t *testing.T) {
	useStore(t)

	out, err := execute(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Total:    2")
	assert.Contains(t, out, "Pending:  2")

	out, err = execute(t, "stats", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":2,"pending":2,"approved":0,"rejected":0}`, out)
}

func TestReviewAndListCommands(t *testing.T) {
	store := useStore(t)

	out, err := execute(t, "review", "1", "approved", "--comments", "great")
	require.NoError(t, err)
	assert.Contains(t, out, "Submission #1 is now approved")

	got, err := store.GetSubmission(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "great", got.Comments)

	out, err = execute(t, "list", "--status", "approved")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "alice")

	_, err = execute(t, "review", "99", "approved")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = execute(t, "review", "1", "maybe")
	assert.Error(t, err)
}

func TestExportCommandWritesFile(t *testing.T) {
	useStore(t)
	path := filepath.Join(t.TempDir(), "out.csv")

	_, err := execute(t, "export", "-o", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestCleanupCommand(t *testing.T) {
	useStore(t)

	out, err := execute(t, "cleanup", "--days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 submissions")

	_, err = execute(t, "cleanup", "--days", "0")
	assert.Error(t, err)
}

func TestReviewHelpStatesLogOnlyNotification(t *testing.T) {
	out, err := execute(t, "review", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "only written to the log")
	assert.Contains(t, out, "POST /admin/submissions/{id}/review")
}

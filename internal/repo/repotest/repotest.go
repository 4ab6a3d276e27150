// Package repotest opens migrated SQLite repositories for tests.
package repotest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"intake-bot/internal/repo"
	"intake-bot/migrations"
)

// Logger discards all output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewSQLite returns a migrated repository backed by a file in t.TempDir().
func NewSQLite(t testing.TB) *repo.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "intake.db"), Logger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return r
}

package repo

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	name string
	sql  string
}

// readMigrations loads the non-empty SQL files under dir in lexicographical order.
func readMigrations(filesystem fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(filesystem, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := entry.Name()
		if dir != "." {
			path = dir + "/" + path
		}
		sqlBytes, err := fs.ReadFile(filesystem, path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if len(sqlBytes) == 0 {
			continue
		}
		out = append(out, migration{name: entry.Name(), sql: string(sqlBytes)})
	}
	return out, nil
}

// ApplyMigrations executes the postgres/ SQL files against the provided pool.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS) error {
	files, err := readMigrations(filesystem, "postgres")
	if err != nil {
		return err
	}

	for _, m := range files {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, m.sql)
			return err
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", m.name, err)
		}
	}
	return nil
}

// ApplySQLiteMigrations executes the sqlite/ SQL files against db.
func ApplySQLiteMigrations(ctx context.Context, db *sql.DB, filesystem fs.FS) error {
	files, err := readMigrations(filesystem, "sqlite")
	if err != nil {
		return err
	}

	for _, m := range files {
		err := withSQLTx(ctx, db, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, m.sql)
			return err
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", m.name, err)
		}
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
)

// Migrate applies pending *.sql files from migrationsFS in lexical order.
// Each file runs in its own transaction together with its schema_migrations row,
// so a failed file leaves no partial schema and is retried on next start.
// Returns the number of files applied.
func (s *PostgresStore) Migrate(ctx context.Context, migrationsFS fs.FS) (int, error) {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("creating schema_migrations table: %w", err)
	}

	files, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	sort.Strings(files)

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, version := range files {
		if applied[version] {
			slog.Debug("migration already applied, skipping", "version", version)
			continue
		}

		sql, err := fs.ReadFile(migrationsFS, version)
		if err != nil {
			return n, fmt.Errorf("reading migration %s: %w", version, err)
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return fmt.Errorf("executing: %w", err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
				return fmt.Errorf("recording: %w", err)
			}
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("migration %s: %w", version, err)
		}

		n++
		slog.Info("migration applied", "version", version)
	}

	return n, nil
}

// appliedVersions loads every recorded version in one query.
func (s *PostgresStore) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

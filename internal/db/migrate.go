package db

import (
	"context"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const migrationLockID = 42170311

// Migrate applies every *.sql file in files that is not yet recorded in
// <schema>.schema_migrations, in lexicographic order. Everything runs in one
// transaction holding a transaction-scoped advisory lock, so concurrent
// callers serialize and the lock is released on commit or rollback.
func Migrate(ctx context.Context, pool Pool, files fs.FS, schema string) error {
	log := zap.L().With(zap.String("component", "db.migrate"))

	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return eris.Wrap(err, "db: list migrations")
	}
	sort.Strings(names)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: begin migrations")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "db: acquire migration lock")
	}

	ensure := "CREATE SCHEMA IF NOT EXISTS " + schema + ";\n" +
		"CREATE TABLE IF NOT EXISTS " + schema + ".schema_migrations (\n" +
		"\tfilename   TEXT PRIMARY KEY,\n" +
		"\tapplied_at TIMESTAMPTZ NOT NULL DEFAULT now()\n" +
		")"
	if _, err := tx.Exec(ctx, ensure); err != nil {
		return eris.Wrap(err, "db: ensure migration table")
	}

	applied, err := appliedMigrations(ctx, tx, schema)
	if err != nil {
		return err
	}

	var done []string
	for _, name := range names {
		if applied[name] {
			continue
		}
		data, err := fs.ReadFile(files, name)
		if err != nil {
			return eris.Wrapf(err, "db: read migration %s", name)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "db: apply migration %s", name)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO "+schema+".schema_migrations (filename) VALUES ($1)", name,
		); err != nil {
			return eris.Wrapf(err, "db: record migration %s", name)
		}
		done = append(done, name)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "db: commit migrations")
	}
	for _, name := range done {
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

func appliedMigrations(ctx context.Context, tx pgx.Tx, schema string) (map[string]bool, error) {
	rows, err := tx.Query(ctx, "SELECT filename FROM "+schema+".schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "db: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

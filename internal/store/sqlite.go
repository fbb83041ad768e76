package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/exp-bench/internal/bench"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteTimeLayout is fixed-width so created_at sorts lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                    TEXT PRIMARY KEY,
	engine                TEXT NOT NULL,
	approach              TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL,
	query_count           INTEGER NOT NULL DEFAULT 0,
	failed_count          INTEGER NOT NULL DEFAULT 0,
	speedup_analysis_only TEXT NOT NULL DEFAULT '',
	report                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS query_results (
	run_id           TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position         INTEGER NOT NULL,
	experiment       TEXT NOT NULL,
	metric           TEXT NOT NULL,
	approach         TEXT NOT NULL,
	variant          TEXT NOT NULL,
	walltime_seconds REAL NOT NULL,
	row_count        INTEGER NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_engine ON runs(engine);
`

// Migrate creates the store's tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveReport implements Store.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *bench.Report) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal report")
	}
	sum := summarize(r)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin save report")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, engine, approach, created_at, query_count, failed_count, speedup_analysis_only, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.Engine, sum.Approach, sum.CreatedAt.UTC().Format(sqliteTimeLayout),
		sum.QueryCount, sum.FailedCount, sum.SpeedupAnalysisOnly, string(body),
	); err != nil {
		return "", eris.Wrapf(err, "sqlite: insert run %s", r.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO query_results (run_id, position, experiment, metric, approach, variant, walltime_seconds, row_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: prepare result insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, q := range r.Queries {
		if _, err := stmt.ExecContext(ctx,
			r.ID, i, q.Experiment, q.Metric, string(q.Approach), string(q.Variant), q.WalltimeSeconds, q.RowCount,
		); err != nil {
			return "", eris.Wrapf(err, "sqlite: insert result %d for run %s", i, r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit save report")
	}
	return r.ID, nil
}

// GetReport implements Store.
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*bench.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	var r bench.Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal run %s", id)
	}
	return &r, nil
}

// ListReports implements Store.
func (s *SQLiteStore) ListReports(ctx context.Context, filter ListFilter) ([]RunSummary, error) {
	query := `SELECT id, engine, approach, created_at, query_count, failed_count, speedup_analysis_only FROM runs WHERE 1=1`
	var args []any

	if filter.Engine != "" {
		query += ` AND engine = ?`
		args = append(args, filter.Engine)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []RunSummary
	for rows.Next() {
		var (
			r       RunSummary
			created string
		)
		if err := rows.Scan(&r.ID, &r.Engine, &r.Approach, &created, &r.QueryCount, &r.FailedCount, &r.SpeedupAnalysisOnly); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.CreatedAt, err = time.Parse(sqliteTimeLayout, created)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse created_at for run %s", r.ID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// ListTimings implements Store.
func (s *SQLiteStore) ListTimings(ctx context.Context, id string) ([]QueryTiming, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment, metric, approach, variant, walltime_seconds, row_count
		 FROM query_results WHERE run_id = ? ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list timings for %s", id)
	}
	defer rows.Close() //nolint:errcheck

	var out []QueryTiming
	for rows.Next() {
		var q QueryTiming
		if err := rows.Scan(&q.Experiment, &q.Metric, &q.Approach, &q.Variant, &q.WalltimeSeconds, &q.RowCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan timing")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list timings iterate")
}

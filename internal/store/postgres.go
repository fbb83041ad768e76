package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/exp-bench/internal/bench"
	"github.com/sells-group/exp-bench/internal/db"
	"github.com/sells-group/exp-bench/internal/model"
	"github.com/sells-group/exp-bench/internal/resilience"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Schema holds the store's tables in Postgres.
const Schema = "exp_bench"

var resultColumns = []string{
	"run_id", "position", "experiment", "metric", "approach", "variant", "walltime_seconds", "row_count",
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects to Postgres, retrying transient failures.
func NewPostgres(ctx context.Context, connString string, attempts int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := resilience.DoVal(ctx, resilience.ConnectRetry(attempts, "store"),
		func(ctx context.Context) (*pgxpool.Pool, error) {
			pool, err := pgxpool.NewWithConfig(ctx, cfg)
			if err != nil {
				return nil, err
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				return nil, err
			}
			return pool, nil
		})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	files, err := fsSub(migrationFS, "migrations")
	if err != nil {
		return err
	}
	return db.Migrate(ctx, s.pool, files, Schema)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveReport implements Store. The run row and its per-query rows are
// written in one transaction.
func (s *PostgresStore) SaveReport(ctx context.Context, r *bench.Report) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal report")
	}
	sum := summarize(r)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin save report")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO exp_bench.runs (id, engine, approach, created_at, query_count, failed_count, speedup_analysis_only, report)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sum.ID, sum.Engine, sum.Approach, sum.CreatedAt, sum.QueryCount, sum.FailedCount, sum.SpeedupAnalysisOnly, body,
	); err != nil {
		return "", eris.Wrapf(err, "postgres: insert run %s", r.ID)
	}

	rows := make([][]any, 0, len(r.Queries))
	for i, q := range r.Queries {
		rows = append(rows, []any{
			r.ID, i, q.Experiment, q.Metric, string(q.Approach), string(q.Variant), q.WalltimeSeconds, q.RowCount,
		})
	}
	if _, err := db.CopyRows(ctx, tx, Schema+".query_results", resultColumns, rows); err != nil {
		return "", eris.Wrapf(err, "postgres: insert results for run %s", r.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit save report")
	}
	return r.ID, nil
}

// GetReport implements Store.
func (s *PostgresStore) GetReport(ctx context.Context, id string) (*bench.Report, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM exp_bench.runs WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	var r bench.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal run %s", id)
	}
	return &r, nil
}

// ListReports implements Store.
func (s *PostgresStore) ListReports(ctx context.Context, filter ListFilter) ([]RunSummary, error) {
	query := `SELECT id, engine, approach, created_at, query_count, failed_count, speedup_analysis_only FROM exp_bench.runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Engine != "" {
		query += fmt.Sprintf(` AND engine = $%d`, argIdx)
		args = append(args, filter.Engine)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Engine, &r.Approach, &r.CreatedAt, &r.QueryCount, &r.FailedCount, &r.SpeedupAnalysisOnly); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// ListTimings implements Store.
func (s *PostgresStore) ListTimings(ctx context.Context, id string) ([]QueryTiming, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT experiment, metric, approach, variant, walltime_seconds, row_count
		 FROM exp_bench.query_results WHERE run_id = $1 ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list timings for %s", id)
	}
	defer rows.Close()

	var out []QueryTiming
	for rows.Next() {
		var (
			q                 QueryTiming
			approach, variant string
		)
		if err := rows.Scan(&q.Experiment, &q.Metric, &approach, &variant, &q.WalltimeSeconds, &q.RowCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan timing")
		}
		q.Approach = model.Approach(approach)
		q.Variant = model.Variant(variant)
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list timings iterate")
}

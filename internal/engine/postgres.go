package engine

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exp-bench/internal/db"
	"github.com/sells-group/exp-bench/internal/resilience"
)

// Postgres runs benchmark SQL over a one-connection pool, so session state
// such as temp tables survives between the statements of a batch.
type Postgres struct {
	opts Options
	pool db.Pool
	log  *zap.Logger
}

// NewPostgres returns an unconnected adapter.
func NewPostgres(opts Options) *Postgres {
	return &Postgres{
		opts: opts,
		log:  zap.L().With(zap.String("component", "engine.postgres")),
	}
}

// NewPostgresWithPool wraps an existing pool; Connect becomes a no-op.
func NewPostgresWithPool(pool db.Pool) *Postgres {
	p := NewPostgres(Options{})
	p.pool = pool
	return p
}

// Name implements Adapter.
func (p *Postgres) Name() string { return "postgres" }

// Connect opens the session, retrying transient failures.
func (p *Postgres) Connect(ctx context.Context) error {
	if p.pool != nil {
		return nil
	}
	cfg, err := pgxpool.ParseConfig(p.opts.DatabaseURL)
	if err != nil {
		return eris.Wrap(err, "engine: parse postgres config")
	}
	cfg.MaxConns = 1
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 24 * time.Hour
	cfg.MaxConnIdleTime = 24 * time.Hour
	if p.opts.StatementTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(p.opts.StatementTimeout.Milliseconds(), 10)
	}

	connectTimeout := p.opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	pool, err := resilience.DoVal(ctx, resilience.ConnectRetry(p.opts.ConnectAttempts, "postgres"),
		func(ctx context.Context) (*pgxpool.Pool, error) {
			pool, err := pgxpool.NewWithConfig(ctx, cfg)
			if err != nil {
				return nil, err
			}
			pctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			if err := pool.Ping(pctx); err != nil {
				pool.Close()
				return nil, err
			}
			return pool, nil
		})
	if err != nil {
		return eris.Wrap(err, "engine: connect postgres")
	}
	p.pool = pool
	p.log.Info("connected", zap.String("host", cfg.ConnConfig.Host), zap.String("database", cfg.ConnConfig.Database))
	return nil
}

// Close releases the session.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}

// Run implements Adapter.
func (p *Postgres) Run(ctx context.Context, sql string) (time.Duration, error) {
	if p.pool == nil {
		return 0, eris.New("engine: postgres not connected")
	}
	start := time.Now()
	for i, stmt := range SplitStatements(sql) {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return time.Since(start), &ExecutionError{Statement: i + 1, Err: err}
		}
	}
	return time.Since(start), nil
}

// RunWithResults implements Adapter.
func (p *Postgres) RunWithResults(ctx context.Context, sql string) (*Result, error) {
	if p.pool == nil {
		return nil, eris.New("engine: postgres not connected")
	}
	start := time.Now()
	var rows []map[string]any
	for i, stmt := range SplitStatements(sql) {
		got, hasRows, err := p.query(ctx, stmt)
		if err != nil {
			return nil, &ExecutionError{Statement: i + 1, Err: err}
		}
		if hasRows {
			rows = got
		}
	}
	return &Result{Elapsed: time.Since(start), Rows: rows, RowCount: len(rows)}, nil
}

func (p *Postgres) query(ctx context.Context, stmt string) ([]map[string]any, bool, error) {
	rows, err := p.pool.Query(ctx, stmt)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, false, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			if i < len(values) {
				row[f.Name] = normalize(values[i])
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return out, len(fields) > 0, nil
}

// normalize converts driver values into JSON-friendly scalars.
func normalize(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return finite(f.Float64)
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	default:
		return v
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

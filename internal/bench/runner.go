// Package bench times generated queries against an execution adapter,
// builds the pre-aggregation pipeline, and compares the two approaches.
package bench

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/exp-bench/internal/engine"
	"github.com/sells-group/exp-bench/internal/model"
)

// QuerySource resolves a manifest file to SQL text.
type QuerySource interface {
	Read(file string) (string, error)
}

// DirSource reads manifest files relative to a directory.
type DirSource struct {
	Dir string
}

// Read implements QuerySource. Failures are *IOError.
func (d DirSource) Read(file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.Dir, file))
	if err != nil {
		return "", &IOError{File: file, Err: err}
	}
	return string(data), nil
}

// Skipped is a manifest entry that produced no result.
type Skipped struct {
	Entry model.ManifestEntry
	Err   error
}

// Outcome holds the results of a benchmark run and the entries it skipped.
type Outcome struct {
	Results []model.BenchmarkResult
	Skipped []Skipped
}

// Runner executes manifest entries one at a time on a single adapter.
type Runner struct {
	Adapter engine.Adapter
	Source  QuerySource
	Warmup  int
	Runs    int
	// Timeout bounds each execution; zero means none.
	Timeout time.Duration
	// Pacer, when set, is waited on before each timed run, outside the
	// measured interval.
	Pacer *rate.Limiter
}

const progressEvery = 50

// Benchmark runs warmups and timed runs for every entry. Per-run and
// per-entry failures are recorded in the outcome; only a canceled ctx stops
// the loop early, returning the partial outcome with ctx's error.
func (r *Runner) Benchmark(ctx context.Context, manifest []model.ManifestEntry) (*Outcome, error) {
	log := zap.L().With(zap.String("component", "bench.runner"))
	out := &Outcome{}
	total := len(manifest)

	for i, entry := range manifest {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		key := entry.Key()

		sql, err := r.Source.Read(entry.File)
		if err != nil {
			log.Warn("skipping entry", zap.String("file", entry.File), zap.Error(err))
			out.Skipped = append(out.Skipped, Skipped{Entry: entry, Err: err})
			continue
		}

		for w := 0; w < r.Warmup; w++ {
			if _, err := r.execute(ctx, sql); err != nil {
				log.Debug("warmup failed", zap.String("query", key.String()), zap.Error(err))
				break
			}
		}

		timings := make([]float64, 0, r.Runs)
		var last *engine.Result
		for run := 0; run < r.Runs; run++ {
			if r.Pacer != nil {
				if err := r.Pacer.Wait(ctx); err != nil {
					return out, err
				}
			}
			res, err := r.execute(ctx, sql)
			if err != nil {
				// An interrupted run says nothing about the query.
				if ctxErr := ctx.Err(); ctxErr != nil {
					return out, ctxErr
				}
				log.Warn("timed run failed",
					zap.Int("entry", i+1),
					zap.Int("total", total),
					zap.String("query", key.String()),
					zap.Int("run", run+1),
					zap.Error(err),
				)
				timings = append(timings, model.FailedTiming)
				continue
			}
			timings = append(timings, roundTo(res.Elapsed.Seconds(), 6))
			last = res
		}

		result := model.BenchmarkResult{
			Experiment:      key.Experiment,
			Metric:          key.Metric,
			Approach:        key.Approach,
			Variant:         key.Variant,
			WalltimeSeconds: roundTo(Median(timings), 6),
			AllTimings:      timings,
			Rows:            []map[string]any{},
		}
		if last != nil {
			result.RowCount = last.RowCount
			result.Rows = sample(last.Rows)
		}
		out.Results = append(out.Results, result)

		if (i+1)%progressEvery == 0 || i == 0 {
			log.Info("progress",
				zap.Int("entry", i+1),
				zap.Int("total", total),
				zap.String("query", key.String()),
				zap.Float64("median_seconds", result.WalltimeSeconds),
			)
		}
	}
	return out, nil
}

func (r *Runner) execute(ctx context.Context, sql string) (*engine.Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	return r.Adapter.RunWithResults(ctx, sql)
}

// Median returns the median of the non-negative timings, or -1 when every
// timing is a failure sentinel.
func Median(timings []float64) float64 {
	valid := make([]float64, 0, len(timings))
	for _, t := range timings {
		if t >= 0 {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return model.FailedTiming
	}
	m, err := stats.Median(valid)
	if err != nil {
		return model.FailedTiming
	}
	return m
}

func sample(rows []map[string]any) []map[string]any {
	if len(rows) > model.SampleRows {
		rows = rows[:model.SampleRows]
	}
	out := make([]map[string]any, len(rows))
	copy(out, rows)
	return out
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

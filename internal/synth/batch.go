package synth

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/exp-bench/internal/model"
)

// Failure is a query that could not be generated.
type Failure struct {
	Key model.QueryKey
	Err error
}

// Batch holds every generated query plus the labeled failures. One failed
// query never prevents its siblings from being generated.
type Batch struct {
	Queries  []model.GeneratedQuery
	Failures []Failure
}

// Count returns the number of generated queries for an approach.
func (b *Batch) Count(approach model.Approach) int {
	n := 0
	for _, q := range b.Queries {
		if q.Approach == approach {
			n++
		}
	}
	return n
}

// GenerateOpts controls batch generation.
type GenerateOpts struct {
	QuantileMode QuantileMode
	// Concurrency bounds how many experiments render at once. Output order
	// does not depend on it.
	Concurrency int
}

// GenerateAll renders the on-demand query and both pre-aggregated variants
// for every experiment and metric in the catalog. Results are ordered by
// experiment, then metric, then approach and variant.
func (s *Synthesizer) GenerateAll(ctx context.Context, cat *model.Catalog, opts GenerateOpts) (*Batch, error) {
	log := zap.L().With(zap.String("component", "synth.batch"))

	slots := make([]Batch, len(cat.Experiments))

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, exp := range cat.Experiments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = s.generateExperiment(exp, cat, opts.QuantileMode)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Batch{}
	for _, slot := range slots {
		out.Queries = append(out.Queries, slot.Queries...)
		out.Failures = append(out.Failures, slot.Failures...)
	}
	for _, f := range out.Failures {
		log.Warn("query generation failed",
			zap.String("query", f.Key.String()),
			zap.Error(f.Err),
		)
	}
	return out, nil
}

func (s *Synthesizer) generateExperiment(exp model.ExperimentSpec, cat *model.Catalog, mode QuantileMode) Batch {
	var b Batch
	for _, metric := range cat.Metrics {
		for _, approach := range []model.Approach{model.ApproachOnDemand, model.ApproachPreAgg} {
			for _, variant := range approach.Variants() {
				key := model.QueryKey{
					Experiment: exp.ID,
					Metric:     metric.ID,
					Approach:   approach,
					Variant:    variant,
				}
				sql, err := s.Synthesize(approach, exp, cat.Defaults, metric, variant, mode)
				if err != nil {
					b.Failures = append(b.Failures, Failure{Key: key, Err: err})
					continue
				}
				b.Queries = append(b.Queries, model.GeneratedQuery{QueryKey: key, SQL: sql})
			}
		}
	}
	return b
}

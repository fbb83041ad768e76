package store

import (
	"time"

	"github.com/sells-group/exp-bench/internal/bench"
	"github.com/sells-group/exp-bench/internal/model"
)

func sampleReport(engine string, at time.Time) *bench.Report {
	return &bench.Report{
		Engine:    engine,
		Timestamp: at,
		Config:    bench.RunConfig{WarmupRuns: 1, TimedRuns: 3, Approach: "both"},
		PipelineTimings: map[string]float64{
			"daily_purchased_items": 1.5,
		},
		Summary: bench.Summary{SpeedupAnalysisOnly: "4.0x"},
		Queries: []model.BenchmarkResult{
			{
				Experiment: "exp_a", Metric: "purchased_items",
				Approach: model.ApproachOnDemand, Variant: model.VariantStandard,
				WalltimeSeconds: 0.4, AllTimings: []float64{0.4, 0.41, 0.39}, RowCount: 2,
				Rows: []map[string]any{{"variant": "control", "users": 10.0}},
			},
			{
				Experiment: "exp_a", Metric: "purchased_items",
				Approach: model.ApproachPreAgg, Variant: model.VariantUnweighted,
				WalltimeSeconds: -1, AllTimings: []float64{-1, -1, -1}, Rows: []map[string]any{},
			},
		},
	}
}

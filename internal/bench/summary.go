package bench

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/sells-group/exp-bench/internal/model"
)

// NotAvailable is reported for a speedup whose denominator is zero.
const NotAvailable = "N/A"

// Summary aggregates timings per approach and relates them to the
// pipeline build cost.
type Summary struct {
	OnDemandQueryCount             int     `json:"ondemand_query_count"`
	OnDemandTotalSeconds           float64 `json:"ondemand_total_seconds"`
	OnDemandMedianPerQuery         float64 `json:"ondemand_median_per_query"`
	PreAggQueryCount               int     `json:"preagg_query_count"`
	PreAggTotalSeconds             float64 `json:"preagg_total_seconds"`
	PreAggMedianPerQuery           float64 `json:"preagg_median_per_query"`
	PipelineTotalSeconds           float64 `json:"pipeline_total_seconds"`
	PipelineAmortizedPerExperiment float64 `json:"pipeline_amortized_per_experiment"`
	PreAggTotalWithPipeline        float64 `json:"preagg_total_with_pipeline"`
	SpeedupAnalysisOnly            string  `json:"speedup_analysis_only"`
	SpeedupIncludingPipeline       string  `json:"speedup_including_pipeline"`
}

// Summarize computes the aggregate summary. Results whose every run failed
// are excluded from all totals and medians.
func Summarize(results []model.BenchmarkResult, pipeline []StepTiming) Summary {
	var onDemand, preAgg []float64
	experiments := make(map[string]struct{})
	for _, r := range results {
		experiments[r.Experiment] = struct{}{}
		if r.Failed() {
			continue
		}
		switch r.Approach {
		case model.ApproachOnDemand:
			onDemand = append(onDemand, r.WalltimeSeconds)
		case model.ApproachPreAgg:
			preAgg = append(preAgg, r.WalltimeSeconds)
		}
	}

	odTotal := sum(onDemand)
	paTotal := sum(preAgg)
	pipelineTotal := PipelineTotal(pipeline)
	amortized := 0.0
	if len(experiments) > 0 {
		amortized = pipelineTotal / float64(len(experiments))
	}

	return Summary{
		OnDemandQueryCount:             len(onDemand),
		OnDemandTotalSeconds:           roundTo(odTotal, 3),
		OnDemandMedianPerQuery:         roundTo(median(onDemand), 6),
		PreAggQueryCount:               len(preAgg),
		PreAggTotalSeconds:             roundTo(paTotal, 3),
		PreAggMedianPerQuery:           roundTo(median(preAgg), 6),
		PipelineTotalSeconds:           roundTo(pipelineTotal, 3),
		PipelineAmortizedPerExperiment: roundTo(amortized, 3),
		PreAggTotalWithPipeline:        roundTo(paTotal+pipelineTotal, 3),
		SpeedupAnalysisOnly:            speedup(odTotal, paTotal),
		SpeedupIncludingPipeline:       speedup(odTotal, paTotal+amortized),
	}
}

func speedup(num, denom float64) string {
	if !(denom > 0) {
		return NotAvailable
	}
	return fmt.Sprintf("%.1fx", num/denom)
}

// sum is 0 for no values; stats.Sum reports NaN there.
func sum(xs []float64) float64 {
	s, err := stats.Sum(xs)
	if err != nil {
		return 0
	}
	return s
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m, err := stats.Median(xs)
	if err != nil {
		return 0
	}
	return m
}

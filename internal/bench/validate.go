package bench

import (
	"math"
	"sort"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/spf13/cast"

	"github.com/sells-group/exp-bench/internal/model"
)

// CompareFields are the result columns compared between approaches, in
// priority order.
var CompareFields = []string{"users", "main_sum", "quantile_value"}

// Band classifies a pair's maximum divergence.
type Band string

const (
	BandExact Band = "exact"
	BandClose Band = "close"
	BandFar   Band = "far"
)

// Classify places a percentage difference in its band: below 1 is exact,
// 1 up to but excluding 10 is close, 10 and above is far.
func Classify(diffPct float64) Band {
	switch {
	case diffPct < 1:
		return BandExact
	case diffPct < 10:
		return BandClose
	default:
		return BandFar
	}
}

// PercentDiff is the symmetric percentage difference: |a-b| relative to the
// mean magnitude of a and b. Two zeros differ by 0.
func PercentDiff(a, b float64) float64 {
	denom := (math.Abs(a) + math.Abs(b)) / 2
	if denom == 0 {
		return 0
	}
	return math.Abs(a-b) / denom * 100
}

// FieldDiff compares one field's totals.
type FieldDiff struct {
	OnDemand float64 `json:"ondemand"`
	PreAgg   float64 `json:"preagg"`
	DiffPct  float64 `json:"diff_pct"`
}

// Comparison is one on-demand versus pre-aggregated variant pair.
type Comparison struct {
	Experiment string               `json:"experiment"`
	Metric     string               `json:"metric"`
	Variant    model.Variant        `json:"variant"`
	Diffs      map[string]FieldDiff `json:"diffs"`
	MaxDiffPct float64              `json:"max_diff_pct"`
	Band       Band                 `json:"band"`
}

// DiffStats summarizes all pair divergences.
type DiffStats struct {
	MedianPct float64 `json:"median_pct"`
	P95Pct    float64 `json:"p95_pct"`
	MaxPct    float64 `json:"max_pct"`
}

// ValidationReport is the outcome of Validate.
type ValidationReport struct {
	TotalComparisons int          `json:"total_comparisons"`
	Exact            int          `json:"exact_lt_1pct"`
	Close            int          `json:"close_1_to_10pct"`
	Far              int          `json:"far_gt_10pct"`
	Skipped          int          `json:"skipped"`
	DiffStats        *DiffStats   `json:"diff_stats,omitempty"`
	TopOutliers      []Comparison `json:"top_outliers"`
	Comparisons      []Comparison `json:"-"`
}

const maxOutliers = 10

type groupKey struct {
	Experiment string
	Metric     string
}

type variantKey struct {
	Approach model.Approach
	Variant  model.Variant
}

// Validate pairs each (experiment, metric)'s on-demand result with both
// pre-aggregated variants and measures how far their totals diverge. Pairs
// with a missing side, no sample rows, or no non-zero compared field are
// counted as skipped.
func Validate(results []model.BenchmarkResult) ValidationReport {
	var order []groupKey
	groups := make(map[groupKey]map[variantKey]model.BenchmarkResult)
	for _, r := range results {
		gk := groupKey{Experiment: r.Experiment, Metric: r.Metric}
		g, ok := groups[gk]
		if !ok {
			g = make(map[variantKey]model.BenchmarkResult)
			groups[gk] = g
			order = append(order, gk)
		}
		variant := r.Variant
		if variant == "" {
			variant = model.VariantStandard
		}
		g[variantKey{Approach: r.Approach, Variant: variant}] = r
	}

	report := ValidationReport{TopOutliers: []Comparison{}}
	for _, gk := range order {
		g := groups[gk]
		od, hasOD := g[variantKey{model.ApproachOnDemand, model.VariantStandard}]
		for _, v := range model.ApproachPreAgg.Variants() {
			pa, hasPA := g[variantKey{model.ApproachPreAgg, v}]
			if !hasOD || !hasPA || len(od.Rows) == 0 || len(pa.Rows) == 0 {
				report.Skipped++
				continue
			}
			c, ok := compare(gk, v, od.Rows, pa.Rows)
			if !ok {
				report.Skipped++
				continue
			}
			report.Comparisons = append(report.Comparisons, c)
			switch c.Band {
			case BandExact:
				report.Exact++
			case BandClose:
				report.Close++
			default:
				report.Far++
			}
		}
	}
	report.TotalComparisons = len(report.Comparisons)
	if report.TotalComparisons == 0 {
		return report
	}

	diffs := make([]float64, len(report.Comparisons))
	for i, c := range report.Comparisons {
		diffs[i] = c.MaxDiffPct
	}
	sort.Float64s(diffs)
	n := len(diffs)
	report.DiffStats = &DiffStats{
		MedianPct: diffs[n/2],
		P95Pct:    diffs[min(int(float64(n)*0.95), n-1)],
		MaxPct:    diffs[n-1],
	}

	ranked := make([]Comparison, len(report.Comparisons))
	copy(ranked, report.Comparisons)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].MaxDiffPct > ranked[j].MaxDiffPct })
	if len(ranked) > maxOutliers {
		ranked = ranked[:maxOutliers]
	}
	for _, c := range ranked {
		if c.MaxDiffPct >= 1 {
			report.TopOutliers = append(report.TopOutliers, c)
		}
	}
	return report
}

func compare(gk groupKey, variant model.Variant, odRows, paRows []map[string]any) (Comparison, bool) {
	c := Comparison{
		Experiment: gk.Experiment,
		Metric:     gk.Metric,
		Variant:    variant,
		Diffs:      make(map[string]FieldDiff),
	}
	for _, field := range CompareFields {
		od := FieldTotal(odRows, field)
		pa := FieldTotal(paRows, field)
		if od == 0 && pa == 0 {
			continue
		}
		d := PercentDiff(od, pa)
		c.Diffs[field] = FieldDiff{OnDemand: od, PreAgg: pa, DiffPct: d}
		c.MaxDiffPct = math.Max(c.MaxDiffPct, d)
	}
	if len(c.Diffs) == 0 {
		return Comparison{}, false
	}
	c.Band = Classify(c.MaxDiffPct)
	return c, true
}

// FieldTotal sums field across rows, ignoring missing and non-numeric cells.
func FieldTotal(rows []map[string]any, field string) float64 {
	total := 0.0
	for _, row := range rows {
		v, ok := row[field]
		if !ok || v == nil {
			continue
		}
		if n, ok := v.(pgtype.Numeric); ok {
			f, err := n.Float64Value()
			if err == nil && f.Valid {
				total += f.Float64
			}
			continue
		}
		if f, err := cast.ToFloat64E(v); err == nil {
			total += f
		}
	}
	return total
}

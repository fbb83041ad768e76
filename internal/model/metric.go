package model

import "fmt"

// AggregationKind is how a metric's per-unit values are produced.
type AggregationKind string

const (
	AggregationSum      AggregationKind = "sum"
	AggregationCount    AggregationKind = "count"
	AggregationQuantile AggregationKind = "quantile"
)

// DefaultCupedLookbackDays is the pre-exposure period used for the CUPED covariate.
const DefaultCupedLookbackDays = 14

// Cuped configures pre-exposure covariate variance reduction.
type Cuped struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Covariate is the id of the metric whose pre-exposure values serve as
	// the covariate. Empty means the metric itself.
	Covariate    string `yaml:"covariate" json:"covariate,omitempty"`
	LookbackDays int    `yaml:"lookback_days" json:"lookback_days,omitempty"`
}

// Lookback returns the covariate lookback in days, or the default.
func (c *Cuped) Lookback() int {
	if c == nil || c.LookbackDays <= 0 {
		return DefaultCupedLookbackDays
	}
	return c.LookbackDays
}

// Capping winsorizes per-unit values, either at a percentile of the
// observed distribution or at an absolute value.
type Capping struct {
	Percentile float64 `yaml:"percentile" json:"percentile,omitempty"`
	Absolute   float64 `yaml:"absolute" json:"absolute,omitempty"`
}

// IsPercentile reports whether the cap is computed from the data.
func (c *Capping) IsPercentile() bool {
	return c != nil && c.Percentile > 0
}

// MetricSpec describes a metric over an event table.
type MetricSpec struct {
	ID        string          `yaml:"id" json:"id"`
	Kind      AggregationKind `yaml:"kind" json:"kind"`
	Table     string          `yaml:"table" json:"table"`
	Value     string          `yaml:"value" json:"value,omitempty"`
	Condition string          `yaml:"condition" json:"condition,omitempty"`
	// Quantile is the requested quantile for quantile metrics (0 < q < 1).
	Quantile float64  `yaml:"quantile" json:"quantile,omitempty"`
	Cuped    *Cuped   `yaml:"cuped" json:"cuped,omitempty"`
	Capping  *Capping `yaml:"capping" json:"capping,omitempty"`
}

// DailyTable is the pre-aggregated per-unit per-day summary table.
func (m MetricSpec) DailyTable() string {
	return fmt.Sprintf("preagg_%s_daily", m.ID)
}

// SketchTable is the pre-aggregated per-unit per-day sketch table.
func (m MetricSpec) SketchTable() string {
	return fmt.Sprintf("preagg_%s_sketch", m.ID)
}

// ValueExpr returns the column expression summed by sum metrics.
func (m MetricSpec) ValueExpr() string {
	if m.Value == "" {
		return "1"
	}
	return m.Value
}

// QuantileLevel returns the requested quantile, defaulting to the median.
func (m MetricSpec) QuantileLevel() float64 {
	if m.Quantile <= 0 || m.Quantile >= 1 {
		return 0.5
	}
	return m.Quantile
}

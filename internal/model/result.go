package model

// FailedTiming marks a timed run that did not complete.
const FailedTiming = -1.0

// SampleRows bounds how many result rows are kept per query for validation.
const SampleRows = 5

// BenchmarkResult is the timing outcome of one manifest entry.
type BenchmarkResult struct {
	Experiment string   `json:"experiment"`
	Metric     string   `json:"metric"`
	Approach   Approach `json:"approach"`
	Variant    Variant  `json:"variant"`
	// WalltimeSeconds is the median of successful timed runs, or -1 when
	// every run failed.
	WalltimeSeconds float64          `json:"walltime_seconds"`
	AllTimings      []float64        `json:"all_timings"`
	RowCount        int              `json:"row_count"`
	Rows            []map[string]any `json:"rows"`
}

// Key returns the result's query key.
func (r BenchmarkResult) Key() QueryKey {
	return QueryKey{Experiment: r.Experiment, Metric: r.Metric, Approach: r.Approach, Variant: r.Variant}
}

// Failed reports whether no timed run succeeded.
func (r BenchmarkResult) Failed() bool {
	return r.WalltimeSeconds < 0
}

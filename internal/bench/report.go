package bench

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exp-bench/internal/model"
)

// RunConfig echoes the run settings into the report.
type RunConfig struct {
	WarmupRuns int    `json:"warmup_runs"`
	TimedRuns  int    `json:"timed_runs"`
	Approach   string `json:"approach,omitempty"`
}

// SkippedEntry is a manifest entry left out of the results.
type SkippedEntry struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Report is the persisted outcome of a benchmark run.
type Report struct {
	ID              string                  `json:"id,omitempty"`
	Engine          string                  `json:"engine"`
	Timestamp       time.Time               `json:"timestamp"`
	Config          RunConfig               `json:"config"`
	PipelineTimings map[string]float64      `json:"pipeline_timings"`
	Summary         Summary                 `json:"summary"`
	Validation      *ValidationReport       `json:"validation,omitempty"`
	Queries         []model.BenchmarkResult `json:"queries"`
	Skipped         []SkippedEntry          `json:"skipped,omitempty"`
}

// NewReport assembles a report from a finished run.
func NewReport(engineName string, cfg RunConfig, pipeline []StepTiming, out *Outcome, validate bool) *Report {
	r := &Report{
		Engine:          engineName,
		Timestamp:       time.Now().UTC(),
		Config:          cfg,
		PipelineTimings: TimingsByTable(pipeline),
		Summary:         Summarize(out.Results, pipeline),
		Queries:         out.Results,
	}
	if r.Queries == nil {
		r.Queries = []model.BenchmarkResult{}
	}
	if validate {
		v := Validate(out.Results)
		r.Validation = &v
	}
	for _, s := range out.Skipped {
		r.Skipped = append(r.Skipped, SkippedEntry{File: s.Entry.File, Reason: s.Err.Error()})
	}
	return r
}

// WriteReport writes r as indented JSON, creating parent directories.
func WriteReport(path string, r *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "bench: create report dir for %s", path)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return eris.Wrap(err, "bench: marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "bench: write report %s", path)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{File: path, Err: err}
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrapf(err, "bench: parse report %s", path)
	}
	return &r, nil
}

package bench

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/exp-bench/internal/engine"
	"github.com/sells-group/exp-bench/internal/model"
)

// Schema file names under <schemas>/<engine>/.
const (
	RawTablesFile    = "raw_tables.sql"
	PreAggTablesFile = "preagg_tables.sql"
)

// SchemaPath returns <dir>/<engineName>/<file>.
func SchemaPath(dir, engineName, file string) string {
	return filepath.Join(dir, engineName, file)
}

// ReadSchema reads a schema script. Failures are *IOError.
func ReadSchema(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &IOError{File: path, Err: err}
	}
	return string(data), nil
}

// PipelineStep is the SQL that builds one pre-aggregated table.
type PipelineStep struct {
	Table string
	SQL   string
}

// StepTiming is the build time of one pipeline step in seconds, or -1.
type StepTiming struct {
	Table   string  `json:"table"`
	Seconds float64 `json:"seconds"`
}

const dropPrefix = "DROP TABLE IF EXISTS"

// SplitPipeline cuts a pre-aggregation script into one step per
// "DROP TABLE IF EXISTS <name> [CASCADE];" line. Lines before the first DROP
// belong to the first step.
func SplitPipeline(sql string) []PipelineStep {
	var (
		steps []PipelineStep
		name  string
		lines []string
	)
	flush := func() {
		if name != "" && len(lines) > 0 {
			steps = append(steps, PipelineStep{Table: name, SQL: strings.Join(lines, "\n")})
			lines = nil
		}
	}

	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToUpper(trimmed), dropPrefix) {
			flush()
			if parts := strings.Fields(trimmed); len(parts) >= 5 {
				name = strings.TrimSpace(strings.ReplaceAll(strings.TrimRight(parts[4], ";"), "CASCADE", ""))
			}
		}
		lines = append(lines, line)
	}
	flush()
	return steps
}

// RunPipeline executes each step on the adapter and times it. A failed step
// records -1 and the build continues.
func RunPipeline(ctx context.Context, adapter engine.Adapter, steps []PipelineStep) []StepTiming {
	log := zap.L().With(zap.String("component", "bench.pipeline"))
	timings := make([]StepTiming, 0, len(steps))
	for _, step := range steps {
		elapsed, err := adapter.Run(ctx, step.SQL)
		if err != nil {
			log.Warn("pipeline step failed", zap.String("table", step.Table), zap.Error(err))
			timings = append(timings, StepTiming{Table: step.Table, Seconds: model.FailedTiming})
			continue
		}
		secs := roundTo(elapsed.Seconds(), 6)
		log.Info("pipeline step built", zap.String("table", step.Table), zap.Float64("seconds", secs))
		timings = append(timings, StepTiming{Table: step.Table, Seconds: secs})
	}
	log.Info("pipeline built", zap.Float64("total_seconds", PipelineTotal(timings)))
	return timings
}

// PipelineTotal sums the successful steps.
func PipelineTotal(timings []StepTiming) float64 {
	total := 0.0
	for _, t := range timings {
		if t.Seconds >= 0 {
			total += t.Seconds
		}
	}
	return total
}

// TimingsByTable keys step timings by table name for the report.
func TimingsByTable(timings []StepTiming) map[string]float64 {
	out := make(map[string]float64, len(timings))
	for _, t := range timings {
		out[t.Table] = t.Seconds
	}
	return out
}

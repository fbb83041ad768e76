// Package store persists benchmark reports so runs can be listed, compared
// and served after the process exits.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exp-bench/internal/bench"
	"github.com/sells-group/exp-bench/internal/model"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = eris.New("store: run not found")

// RunSummary is the listing view of a stored report.
type RunSummary struct {
	ID                  string    `json:"id"`
	Engine              string    `json:"engine"`
	Approach            string    `json:"approach"`
	CreatedAt           time.Time `json:"created_at"`
	QueryCount          int       `json:"query_count"`
	FailedCount         int       `json:"failed_count"`
	SpeedupAnalysisOnly string    `json:"speedup_analysis_only"`
}

// QueryTiming is one stored per-query result, without sample rows.
type QueryTiming struct {
	Experiment      string         `json:"experiment"`
	Metric          string         `json:"metric"`
	Approach        model.Approach `json:"approach"`
	Variant         model.Variant  `json:"variant"`
	WalltimeSeconds float64        `json:"walltime_seconds"`
	RowCount        int            `json:"row_count"`
}

// ListFilter narrows ListReports.
type ListFilter struct {
	Engine string `json:"engine,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines report persistence.
type Store interface {
	// SaveReport stores r, assigns r.ID when empty, and returns the id.
	SaveReport(ctx context.Context, r *bench.Report) (string, error)
	GetReport(ctx context.Context, id string) (*bench.Report, error)
	ListReports(ctx context.Context, filter ListFilter) ([]RunSummary, error)
	ListTimings(ctx context.Context, id string) ([]QueryTiming, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func summarize(r *bench.Report) RunSummary {
	failed := 0
	for _, q := range r.Queries {
		if q.Failed() {
			failed++
		}
	}
	return RunSummary{
		ID:                  r.ID,
		Engine:              r.Engine,
		Approach:            r.Config.Approach,
		CreatedAt:           r.Timestamp,
		QueryCount:          len(r.Queries),
		FailedCount:         failed,
		SpeedupAnalysisOnly: r.Summary.SpeedupAnalysisOnly,
	}
}

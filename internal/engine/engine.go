// Package engine executes SQL text against a benchmark target and measures
// wall-clock time around each call.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Result is the outcome of RunWithResults.
type Result struct {
	Elapsed  time.Duration
	Rows     []map[string]any
	RowCount int
}

// Adapter is the capability the benchmark engine needs from a SQL engine.
// Implementations own a single session; calls must not overlap.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Close()
	// Run executes every statement in sql in order and returns the
	// wall-clock time around the whole batch.
	Run(ctx context.Context, sql string) (time.Duration, error)
	// RunWithResults is Run, keeping the rows of the last statement that
	// produced a result set.
	RunWithResults(ctx context.Context, sql string) (*Result, error)
}

// ExecutionError reports a statement the engine rejected or that timed out.
// Statement is 1-based within the submitted batch.
type ExecutionError struct {
	Statement int
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("engine: statement %d: %v", e.Statement, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SplitStatements splits sql on ';' and drops blank fragments.
func SplitStatements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Options configures an adapter.
type Options struct {
	DatabaseURL      string
	ConnectTimeout   time.Duration
	ConnectAttempts  int
	StatementTimeout time.Duration
}

// New returns the adapter registered under name.
func New(name string, opts Options) (Adapter, error) {
	switch name {
	case "postgres":
		return NewPostgres(opts), nil
	default:
		return nil, eris.Errorf("engine: unknown engine %q", name)
	}
}

package bench

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sells-group/exp-bench/internal/engine"
)

// fakeAdapter is a scripted engine.Adapter. Statements named in failOn fail
// on the listed 1-based call numbers (0 means every call); "SLOW" blocks
// until the context ends.
type fakeAdapter struct {
	mu      sync.Mutex
	calls   map[string]int
	failOn  map[string][]int
	rows    map[string][]map[string]any
	elapsed time.Duration
	ran     []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		calls:   make(map[string]int),
		failOn:  make(map[string][]int),
		rows:    make(map[string][]map[string]any),
		elapsed: 10 * time.Millisecond,
	}
}

var _ engine.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Name() string                  { return "fake" }
func (f *fakeAdapter) Connect(context.Context) error { return nil }
func (f *fakeAdapter) Close()                        {}

func (f *fakeAdapter) Run(ctx context.Context, sql string) (time.Duration, error) {
	res, err := f.RunWithResults(ctx, sql)
	if err != nil {
		return 0, err
	}
	return res.Elapsed, nil
}

func (f *fakeAdapter) RunWithResults(ctx context.Context, sql string) (*engine.Result, error) {
	if sql == "SLOW" {
		<-ctx.Done()
		return nil, &engine.ExecutionError{Statement: 1, Err: ctx.Err()}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[sql]++
	f.ran = append(f.ran, sql)
	call := f.calls[sql]
	if calls, ok := f.failOn[sql]; ok {
		for _, c := range calls {
			if c == 0 || c == call {
				return nil, &engine.ExecutionError{Statement: 1, Err: errors.New("relation does not exist")}
			}
		}
	}
	rows := f.rows[sql]
	return &engine.Result{Elapsed: f.elapsed, Rows: rows, RowCount: len(rows)}, nil
}

// mapSource serves SQL from memory.
type mapSource map[string]string

func (m mapSource) Read(file string) (string, error) {
	sql, ok := m[file]
	if !ok {
		return "", &IOError{File: file, Err: errors.New("file does not exist")}
	}
	return sql, nil
}

package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/sells-group/exp-bench/internal/engine"
	"github.com/sells-group/exp-bench/internal/store"
)

// connectEngine builds and connects the configured execution adapter.
func connectEngine(ctx context.Context) (engine.Adapter, error) {
	adapter, err := engine.New(cfg.Engine, engine.Options{
		DatabaseURL:      cfg.Postgres.DatabaseURL,
		ConnectTimeout:   seconds(cfg.Postgres.ConnectTimeoutSecs),
		ConnectAttempts:  cfg.Postgres.ConnectAttempts,
		StatementTimeout: seconds(cfg.Postgres.StatementTimeoutSecs),
	})
	if err != nil {
		return nil, err
	}
	if err := adapter.Connect(ctx); err != nil {
		return nil, eris.Wrap(err, "connect engine")
	}
	return adapter, nil
}

// openStore opens the run store; it returns nil when the driver is "none".
func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Postgres.ConnectAttempts)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// newPacer returns a limiter admitting perSecond runs, or nil for no pacing.
func newPacer(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func overrideString(cmd *cobra.Command, flag string, dst *string) {
	if cmd.Flags().Changed(flag) {
		*dst, _ = cmd.Flags().GetString(flag)
	}
}

func overrideInt(cmd *cobra.Command, flag string, dst *int) {
	if cmd.Flags().Changed(flag) {
		*dst, _ = cmd.Flags().GetInt(flag)
	}
}

func overrideBool(cmd *cobra.Command, flag string, dst *bool) {
	if cmd.Flags().Changed(flag) {
		*dst, _ = cmd.Flags().GetBool(flag)
	}
}

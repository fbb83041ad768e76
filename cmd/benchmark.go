package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/exp-bench/internal/bench"
	"github.com/sells-group/exp-bench/internal/engine"
	"github.com/sells-group/exp-bench/internal/model"
	"github.com/sells-group/exp-bench/internal/synth"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Time generated queries and compare on-demand with pre-aggregated results",
	RunE: func(cmd *cobra.Command, _ []string) error {
		overrideString(cmd, "approach", &cfg.Benchmark.Approach)
		overrideString(cmd, "queries-dir", &cfg.Benchmark.QueriesDir)
		overrideString(cmd, "output", &cfg.Benchmark.Output)
		overrideInt(cmd, "warmup", &cfg.Benchmark.Warmup)
		overrideInt(cmd, "runs", &cfg.Benchmark.Runs)
		overrideBool(cmd, "validate", &cfg.Benchmark.Validate)
		overrideBool(cmd, "build-pipeline", &cfg.Benchmark.BuildPipeline)
		if err := cfg.Validate("benchmark"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log := zap.L().With(zap.String("component", "cmd.benchmark"))

		experiments, _ := cmd.Flags().GetString("experiments")
		metrics, _ := cmd.Flags().GetString("metrics")

		manifest, err := synth.ReadManifest(filepath.Join(cfg.Benchmark.QueriesDir, synth.ManifestFile))
		if err != nil {
			return err
		}
		manifest = model.FilterManifest(manifest, model.SplitIDs(experiments), model.SplitIDs(metrics), cfg.Benchmark.Approach)
		if len(manifest) == 0 {
			fmt.Fprintln(os.Stderr, "No queries match the filters.")
			return nil
		}

		adapter, err := connectEngine(ctx)
		if err != nil {
			return err
		}
		defer adapter.Close()

		var pipeline []bench.StepTiming
		if cfg.Benchmark.BuildPipeline && cfg.Benchmark.Approach != string(model.ApproachOnDemand) {
			pipeline = buildPipeline(ctx, adapter, log)
		}

		runner := &bench.Runner{
			Adapter: adapter,
			Source:  bench.DirSource{Dir: cfg.Benchmark.QueriesDir},
			Warmup:  cfg.Benchmark.Warmup,
			Runs:    cfg.Benchmark.Runs,
			Timeout: seconds(cfg.Benchmark.QueryTimeoutSecs),
			Pacer:   newPacer(cfg.Benchmark.PacePerSecond),
		}
		log.Info("benchmark starting",
			zap.Int("queries", len(manifest)),
			zap.String("approach", cfg.Benchmark.Approach),
			zap.Int("warmup", runner.Warmup),
			zap.Int("runs", runner.Runs),
		)
		out, runErr := runner.Benchmark(ctx, manifest)
		if runErr != nil {
			log.Warn("benchmark interrupted, writing partial report", zap.Error(runErr))
		}

		report := bench.NewReport(adapter.Name(), bench.RunConfig{
			WarmupRuns: cfg.Benchmark.Warmup,
			TimedRuns:  cfg.Benchmark.Runs,
			Approach:   cfg.Benchmark.Approach,
		}, pipeline, out, cfg.Benchmark.Validate)

		// Persist even when interrupted.
		saveCtx := context.WithoutCancel(ctx)
		if err := saveReport(saveCtx, report); err != nil {
			log.Warn("saving report to run store failed", zap.Error(err))
		}
		if err := bench.WriteReport(cfg.Benchmark.Output, report); err != nil {
			return err
		}

		formatBenchmarkSummary(os.Stdout, report)
		fmt.Printf("Results: %s\n", cfg.Benchmark.Output)
		return runErr
	},
}

func init() {
	benchmarkCmd.Flags().String("approach", "", "ondemand, preagg or both (default from config)")
	benchmarkCmd.Flags().String("queries-dir", "", "directory holding the manifest and generated queries")
	benchmarkCmd.Flags().String("output", "", "report output path")
	benchmarkCmd.Flags().String("experiments", "", "comma-separated experiment ids to benchmark")
	benchmarkCmd.Flags().String("metrics", "", "comma-separated metric ids to benchmark")
	benchmarkCmd.Flags().Int("warmup", 0, "warmup executions per query")
	benchmarkCmd.Flags().Int("runs", 0, "timed executions per query")
	benchmarkCmd.Flags().Bool("validate", false, "compare on-demand and pre-aggregated results")
	benchmarkCmd.Flags().Bool("build-pipeline", true, "build and time the pre-aggregation tables first")
	rootCmd.AddCommand(benchmarkCmd)
}

// buildPipeline times each pre-aggregation table. A missing script is
// logged and yields no timings.
func buildPipeline(ctx context.Context, adapter engine.Adapter, log *zap.Logger) []bench.StepTiming {
	path := bench.SchemaPath(cfg.Benchmark.SchemasDir, adapter.Name(), bench.PreAggTablesFile)
	script, err := bench.ReadSchema(path)
	if err != nil {
		log.Warn("pre-aggregation pipeline skipped", zap.Error(err))
		return nil
	}
	return bench.RunPipeline(ctx, adapter, bench.SplitPipeline(script))
}

func saveReport(ctx context.Context, report *bench.Report) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	defer st.Close() //nolint:errcheck

	id, err := st.SaveReport(ctx, report)
	if err != nil {
		return err
	}
	zap.L().Info("report saved", zap.String("run_id", id))
	return nil
}

// formatBenchmarkSummary writes the headline numbers of a report to w.
func formatBenchmarkSummary(w io.Writer, r *bench.Report) {
	p := message.NewPrinter(language.English)
	s := r.Summary

	_, _ = p.Fprintf(w, "On-demand:      %d queries, %.3fs total, %.6fs median\n",
		s.OnDemandQueryCount, s.OnDemandTotalSeconds, s.OnDemandMedianPerQuery)
	_, _ = p.Fprintf(w, "Pre-aggregated: %d queries, %.3fs total, %.6fs median\n",
		s.PreAggQueryCount, s.PreAggTotalSeconds, s.PreAggMedianPerQuery)
	if s.PipelineTotalSeconds > 0 {
		_, _ = p.Fprintf(w, "Pipeline:       %.3fs total, %.3fs per experiment\n",
			s.PipelineTotalSeconds, s.PipelineAmortizedPerExperiment)
	}
	_, _ = p.Fprintf(w, "Speedup (analysis only):      %s\n", s.SpeedupAnalysisOnly)
	_, _ = p.Fprintf(w, "Speedup (including pipeline): %s\n", s.SpeedupIncludingPipeline)

	if v := r.Validation; v != nil {
		_, _ = p.Fprintf(w, "Validation: %d comparisons, %d exact, %d close, %d far, %d skipped\n",
			v.TotalComparisons, v.Exact, v.Close, v.Far, v.Skipped)
	}
	if len(r.Skipped) > 0 {
		_, _ = p.Fprintf(w, "Skipped:    %d entries\n", len(r.Skipped))
	}
}

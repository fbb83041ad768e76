package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/exp-bench/internal/config"
	"github.com/sells-group/exp-bench/internal/model"
	"github.com/sells-group/exp-bench/internal/synth"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate benchmark queries from the experiment and metric catalogs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		overrideString(cmd, "config-dir", &cfg.Generate.ConfigDir)
		overrideString(cmd, "output-dir", &cfg.Generate.OutputDir)
		overrideBool(cmd, "approx-quantile", &cfg.Generate.ApproxQuantile)
		overrideBool(cmd, "tdigest", &cfg.Generate.TDigest)
		if err := cfg.Validate("generate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		experiments, _ := cmd.Flags().GetString("experiments")
		metrics, _ := cmd.Flags().GetString("metrics")

		cat, err := model.LoadCatalog(cfg.Generate.ConfigDir)
		if err != nil {
			return err
		}

		// Covariate references resolve against the full metric catalog.
		s, err := synth.New(cat.Metrics)
		if err != nil {
			return err
		}

		batch, err := s.GenerateAll(ctx, cat.Filter(model.SplitIDs(experiments), model.SplitIDs(metrics)), synth.GenerateOpts{
			QuantileMode: quantileMode(cfg.Generate),
			Concurrency:  cfg.Generate.Concurrency,
		})
		if err != nil {
			return eris.Wrap(err, "generate")
		}

		manifest, writeFailures, err := synth.Write(cfg.Generate.OutputDir, batch)
		if err != nil {
			return err
		}

		formatGenerateSummary(os.Stdout, cfg.Generate.OutputDir, manifest, len(batch.Failures)+len(writeFailures))
		return nil
	},
}

func init() {
	generateCmd.Flags().String("config-dir", "", "directory holding experiments.yaml and metrics.yaml (default from config)")
	generateCmd.Flags().String("output-dir", "", "query output directory (default from config)")
	generateCmd.Flags().String("experiments", "", "comma-separated experiment ids to generate")
	generateCmd.Flags().String("metrics", "", "comma-separated metric ids to generate")
	generateCmd.Flags().Bool("approx-quantile", false, "use approx_quantile for quantile metrics")
	generateCmd.Flags().Bool("tdigest", false, "use t-digest sketches for quantile metrics")
	rootCmd.AddCommand(generateCmd)
}

// quantileMode picks the quantile mode from the generate settings.
func quantileMode(g config.GenerateConfig) synth.QuantileMode {
	switch {
	case g.TDigest:
		return synth.QuantileTDigest
	case g.ApproxQuantile:
		return synth.QuantileApprox
	default:
		return synth.QuantileExact
	}
}

// formatGenerateSummary writes per-approach query counts to w.
func formatGenerateSummary(w io.Writer, dir string, manifest []model.ManifestEntry, failures int) {
	counts := make(map[model.Approach]int)
	for _, e := range manifest {
		counts[e.Approach]++
	}
	_, _ = fmt.Fprintf(w, "Generated %d on-demand queries\n", counts[model.ApproachOnDemand])
	_, _ = fmt.Fprintf(w, "Generated %d pre-aggregated queries\n", counts[model.ApproachPreAgg])
	if failures > 0 {
		_, _ = fmt.Fprintf(w, "Failed to generate %d queries (see log)\n", failures)
	}
	_, _ = fmt.Fprintf(w, "Manifest: %s\n", filepath.Join(dir, synth.ManifestFile))
}

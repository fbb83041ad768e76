package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/exp-bench/internal/bench"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Create the raw tables (and optionally the pre-aggregated tables) on the engine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		overrideString(cmd, "schemas-dir", &cfg.Benchmark.SchemasDir)
		if err := cfg.Validate("load"); err != nil {
			return err
		}
		ctx := cmd.Context()
		log := zap.L().With(zap.String("component", "cmd.load"))

		adapter, err := connectEngine(ctx)
		if err != nil {
			return err
		}
		defer adapter.Close()

		withPreAgg, _ := cmd.Flags().GetBool("preagg")
		for _, file := range schemaFiles(withPreAgg) {
			path := bench.SchemaPath(cfg.Benchmark.SchemasDir, adapter.Name(), file)
			script, err := bench.ReadSchema(path)
			if err != nil {
				return err
			}
			elapsed, err := adapter.Run(ctx, script)
			if err != nil {
				return eris.Wrapf(err, "load %s", path)
			}
			log.Info("schema loaded", zap.String("file", path), zap.Duration("elapsed", elapsed))
		}
		return nil
	},
}

func init() {
	loadCmd.Flags().String("schemas-dir", "", "directory holding <engine>/raw_tables.sql (default from config)")
	loadCmd.Flags().Bool("preagg", false, "also build the pre-aggregated tables")
	rootCmd.AddCommand(loadCmd)
}

func schemaFiles(withPreAgg bool) []string {
	files := []string{bench.RawTablesFile}
	if withPreAgg {
		files = append(files, bench.PreAggTablesFile)
	}
	return files
}

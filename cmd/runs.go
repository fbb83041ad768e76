package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/exp-bench/internal/model"
	"github.com/sells-group/exp-bench/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect benchmark run history",
	Long:  "Commands for listing stored benchmark reports and viewing their timings.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List benchmark runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engineName, _ := cmd.Flags().GetString("engine")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListReports(ctx, store.ListFilter{Engine: engineName, Limit: limit, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full report of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := st.GetReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// -- runs timings --

var runsTimingsCmd = &cobra.Command{
	Use:   "timings <run-id>",
	Short: "Show per-query timings of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		timings, err := st.ListTimings(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs timings")
		}
		if len(timings) == 0 {
			fmt.Fprintln(os.Stderr, "No timings found.")
			return nil
		}

		formatTimings(os.Stdout, timings)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("engine", "", "filter by engine name")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsTimingsCmd)
	rootCmd.AddCommand(runsCmd)
}

func requireStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("runs"); err != nil {
		return nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("runs: store.driver is none, no run history is kept")
	}
	return st, nil
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []store.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tENGINE\tAPPROACH\tQUERIES\tFAILED\tSPEEDUP\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t-------\t------\t-------\t-------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Engine,
			r.Approach,
			r.QueryCount,
			r.FailedCount,
			r.SpeedupAnalysisOnly,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatTimings writes per-query timings to out. Failed queries show FAILED.
func formatTimings(out io.Writer, timings []store.QueryTiming) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXPERIMENT\tMETRIC\tAPPROACH\tVARIANT\tWALLTIME\tROWS")

	for _, t := range timings {
		walltime := fmt.Sprintf("%.6fs", t.WalltimeSeconds)
		if t.WalltimeSeconds == model.FailedTiming {
			walltime = "FAILED"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			t.Experiment, t.Metric, t.Approach, t.Variant, walltime, t.RowCount)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

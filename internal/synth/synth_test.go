package synth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/exp-bench/internal/model"
	"github.com/sells-group/exp-bench/internal/window"
)

func intPtr(v int) *int { return &v }

func baseDefaults() model.ExperimentSpec {
	return model.ExperimentSpec{
		ExperimentID: "checkout-layout",
		StartDate:    "2021-11-01T00:00:00",
		EndDate:      "2022-02-01T00:00:00",
	}
}

func baseExperiment() model.ExperimentSpec {
	return model.ExperimentSpec{
		ID:                    "base",
		DelayHours:            intPtr(0),
		ConversionWindowHours: intPtr(72),
		WindowType:            model.WindowConversion,
		Attribution:           model.AttributionFirstExposure,
	}
}

func sumMetric() model.MetricSpec {
	return model.MetricSpec{ID: "purchased_items", Kind: model.AggregationSum, Table: "orders", Value: "m.qty"}
}

func newSynth(t *testing.T, metrics ...model.MetricSpec) *Synthesizer {
	t.Helper()
	s, err := New(metrics)
	require.NoError(t, err)
	return s
}

func TestSynthesize_EndToEndWindowClauses(t *testing.T) {
	s := newSynth(t)
	metric := sumMetric()
	metric.Cuped = &model.Cuped{Enabled: false}

	od, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), metric, model.VariantStandard, QuantileExact)
	require.NoError(t, err)
	assert.Contains(t, od, "m.timestamp >= u.first_exposure_timestamp\n"+
		"           AND m.timestamp <= u.first_exposure_timestamp + INTERVAL '72 hours'")
	assert.Contains(t, od, "LEFT JOIN orders m")
	assert.Contains(t, od, "COALESCE(SUM(m.qty), 0) AS value")
	assert.Contains(t, od, "WHERE e.experiment_id = 'checkout-layout'")
	assert.NotContains(t, od, "covariate")

	pa, err := s.Synthesize(model.ApproachPreAgg, baseExperiment(), baseDefaults(), metric, model.VariantUnweighted, QuantileExact)
	require.NoError(t, err)
	assert.Contains(t, pa, "m.metric_date >= CAST(u.first_exposure AS DATE)\n"+
		"    AND m.metric_date <= CAST(u.first_exposure + INTERVAL '3 days' AS DATE)")
	assert.Contains(t, pa, "LEFT JOIN preagg_purchased_items_daily m")
	assert.Contains(t, pa, "MIN(e.timestamp) AS first_exposure\n")
}

func TestSynthesize_WindowMatchesCompiler(t *testing.T) {
	s := newSynth(t)
	exp := baseExperiment()
	exp.DelayHours = intPtr(-30)
	exp.WindowType = model.WindowLookback

	merged := model.Merge(baseDefaults(), exp)

	od, err := s.Synthesize(model.ApproachOnDemand, exp, baseDefaults(), sumMetric(), model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, od, window.Compile(merged, window.Timestamp))

	pa, err := s.Synthesize(model.ApproachPreAgg, exp, baseDefaults(), sumMetric(), model.VariantWeighted, "")
	require.NoError(t, err)
	assert.Contains(t, pa, window.Compile(merged, window.Date))
}

func TestSynthesize_CupedDisabledEqualsAbsent(t *testing.T) {
	s := newSynth(t)
	absent := sumMetric()
	disabled := sumMetric()
	disabled.Cuped = &model.Cuped{Enabled: false, Covariate: "other", LookbackDays: 30}

	for _, approach := range []model.Approach{model.ApproachOnDemand, model.ApproachPreAgg} {
		for _, variant := range approach.Variants() {
			a, err := s.Synthesize(approach, baseExperiment(), baseDefaults(), absent, variant, QuantileExact)
			require.NoError(t, err)
			d, err := s.Synthesize(approach, baseExperiment(), baseDefaults(), disabled, variant, QuantileExact)
			require.NoError(t, err)
			assert.Equal(t, a, d, "%s/%s", approach, variant)
		}
	}
}

func TestSynthesize_CupedEnabled(t *testing.T) {
	s := newSynth(t)
	metric := sumMetric()
	metric.Cuped = &model.Cuped{Enabled: true, LookbackDays: 7}

	od, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), metric, model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, od, "covariate AS (")
	assert.Contains(t, od, "m.timestamp >= u.first_exposure_timestamp - INTERVAL '7 days'")
	assert.Contains(t, od, "LEFT JOIN covariate cv ON cv.user_id = uv.user_id")
	assert.Contains(t, od, "AS main_covariate_sum_product")

	pa, err := s.Synthesize(model.ApproachPreAgg, baseExperiment(), baseDefaults(), metric, model.VariantUnweighted, "")
	require.NoError(t, err)
	assert.Contains(t, pa, "m.metric_date < CAST(u.first_exposure AS DATE)")
	assert.Contains(t, pa, "m.metric_date >= CAST(u.first_exposure - INTERVAL '7 days' AS DATE)")
}

func TestSynthesize_CupedCovariateReference(t *testing.T) {
	sessions := model.MetricSpec{ID: "sessions", Kind: model.AggregationCount, Table: "sessions"}
	s := newSynth(t, sessions)

	metric := sumMetric()
	metric.Cuped = &model.Cuped{Enabled: true, Covariate: "sessions"}

	od, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), metric, model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, od, "LEFT JOIN sessions m")
	assert.Contains(t, od, "COUNT(m.user_id) AS covariate")

	pa, err := s.Synthesize(model.ApproachPreAgg, baseExperiment(), baseDefaults(), metric, model.VariantUnweighted, "")
	require.NoError(t, err)
	assert.Contains(t, pa, "LEFT JOIN preagg_sessions_daily m")

	metric.Cuped.Covariate = "missing"
	_, err = s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), metric, model.VariantStandard, "")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "cuped.covariate", cfgErr.Field)
}

func TestSynthesize_MissingRequiredFields(t *testing.T) {
	s := newSynth(t)

	tests := []struct {
		field  string
		mutate func(*model.ExperimentSpec)
	}{
		{"experiment_id", func(e *model.ExperimentSpec) { e.ExperimentID = "" }},
		{"start_date", func(e *model.ExperimentSpec) { e.StartDate = "" }},
		{"end_date", func(e *model.ExperimentSpec) { e.EndDate = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			defaults := baseDefaults()
			tt.mutate(&defaults)

			_, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), defaults, sumMetric(), model.VariantStandard, "")
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Equal(t, "base", cfgErr.Experiment)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestSynthesize_ExperimentOverridesDefaults(t *testing.T) {
	s := newSynth(t)
	exp := baseExperiment()
	exp.StartDate = "2021-12-15T00:00:00"
	exp.ExposureTable = "exposures_v2"

	sql, err := s.Synthesize(model.ApproachOnDemand, exp, baseDefaults(), sumMetric(), model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, sql, "AND e.timestamp >= '2021-12-15T00:00:00'")
	assert.Contains(t, sql, "FROM exposures_v2 e")
}

func TestSynthesize_Weighting(t *testing.T) {
	s := newSynth(t)

	unweighted, err := s.Synthesize(model.ApproachPreAgg, baseExperiment(), baseDefaults(), sumMetric(), model.VariantUnweighted, "")
	require.NoError(t, err)
	weighted, err := s.Synthesize(model.ApproachPreAgg, baseExperiment(), baseDefaults(), sumMetric(), model.VariantWeighted, "")
	require.NoError(t, err)

	assert.Contains(t, unweighted, "COALESCE(SUM(m.value_sum), 0) AS value")
	assert.NotContains(t, unweighted, "DATE_TRUNC")
	assert.Contains(t, weighted, "SUM(m.value_sum * CASE WHEN m.metric_date = CAST(u.first_exposure AS DATE)")
}

func TestSynthesize_CountMetric(t *testing.T) {
	s := newSynth(t)
	metric := model.MetricSpec{ID: "orders", Kind: model.AggregationCount, Table: "orders", Condition: "m.status = 'paid'"}

	od, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), metric, model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, od, "COUNT(m.user_id) AS value")
	assert.Contains(t, od, "     AND m.status = 'paid'\n")

	pa, err := s.Synthesize(model.ApproachPreAgg, baseExperiment(), baseDefaults(), metric, model.VariantUnweighted, "")
	require.NoError(t, err)
	assert.Contains(t, pa, "COALESCE(SUM(m.value_count), 0) AS value")
}

func TestSynthesize_Capping(t *testing.T) {
	s := newSynth(t)

	pct := sumMetric()
	pct.Capping = &model.Capping{Percentile: 0.99}
	sql, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), pct, model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, sql, "SELECT PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY value) AS cap_value")
	assert.Contains(t, sql, "CROSS JOIN cap")
	assert.Contains(t, sql, "SUM(LEAST(uv.value, cap.cap_value)) AS main_sum")

	abs := sumMetric()
	abs.Capping = &model.Capping{Absolute: 250}
	sql, err = s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), abs, model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, sql, "SUM(LEAST(uv.value, 250)) AS main_sum")
	assert.NotContains(t, sql, "cap AS (")
}

func TestSynthesize_QuantileModes(t *testing.T) {
	s := newSynth(t)
	metric := model.MetricSpec{ID: "order_value", Kind: model.AggregationQuantile, Table: "orders", Value: "m.amount", Quantile: 0.9}

	exact, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), metric, model.VariantStandard, QuantileExact)
	require.NoError(t, err)
	assert.Contains(t, exact, "PERCENTILE_CONT(0.9) WITHIN GROUP (ORDER BY uv.value) AS quantile_value")

	approx, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), metric, model.VariantStandard, QuantileApprox)
	require.NoError(t, err)
	assert.Contains(t, approx, "approx_quantile(uv.value, 0.9) AS quantile_value")

	sketch, err := s.Synthesize(model.ApproachPreAgg, baseExperiment(), baseDefaults(), metric, model.VariantUnweighted, QuantileTDigest)
	require.NoError(t, err)
	merged := model.Merge(baseDefaults(), baseExperiment())
	assert.Contains(t, sketch, "JOIN preagg_order_value_sketch s")
	assert.Contains(t, sketch, window.SketchClause(merged))
	assert.Contains(t, sketch, "MAX(qs.quantile_value) AS quantile_value")

	sum, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), sumMetric(), model.VariantStandard, QuantileExact)
	require.NoError(t, err)
	assert.NotContains(t, sum, "quantile_value")
}

func TestSynthesize_ActivationAndDimension(t *testing.T) {
	s := newSynth(t)

	exp := baseExperiment()
	exp.Activation = &model.Activation{Table: "events", Condition: "a.event_name = 'Cart Loaded'", IdentityJoin: "anonymous_id"}
	sql, err := s.Synthesize(model.ApproachOnDemand, exp, baseDefaults(), sumMetric(), model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, sql, "WITH exposed AS (")
	assert.Contains(t, sql, "JOIN events a ON a.anonymous_id = x.user_id")
	assert.Contains(t, sql, "AND a.event_name = 'Cart Loaded'")
	assert.Contains(t, sql, "act.activation_timestamp AS first_exposure_timestamp")

	exp.Dimension = &model.Dimension{Type: model.DimensionActivation}
	sql, err = s.Synthesize(model.ApproachPreAgg, exp, baseDefaults(), sumMetric(), model.VariantUnweighted, "")
	require.NoError(t, err)
	assert.Contains(t, sql, "THEN 'not activated' ELSE 'activated' END AS dimension")
	assert.Contains(t, sql, "GROUP BY uv.variation, uv.dimension")

	col := baseExperiment()
	col.Dimension = &model.Dimension{Type: model.DimensionColumn, Column: "browser"}
	sql, err = s.Synthesize(model.ApproachOnDemand, col, baseDefaults(), sumMetric(), model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, sql, "MIN(e.browser) AS dimension")
	assert.Contains(t, sql, "ORDER BY uv.variation, uv.dimension")
}

func TestSynthesize_ActivationDimensionRequiresActivation(t *testing.T) {
	s := newSynth(t)
	exp := baseExperiment()
	exp.Dimension = &model.Dimension{Type: model.DimensionActivation}

	_, err := s.Synthesize(model.ApproachOnDemand, exp, baseDefaults(), sumMetric(), model.VariantStandard, "")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "activation", cfgErr.Field)
}

func TestSynthesize_SegmentAndSkipPartial(t *testing.T) {
	s := newSynth(t)
	skip := true
	exp := baseExperiment()
	exp.Segment = &model.Segment{Table: "segments", Condition: "sg.segment = 'loyal'"}
	exp.SkipPartialData = &skip

	sql, err := s.Synthesize(model.ApproachOnDemand, exp, baseDefaults(), sumMetric(), model.VariantStandard, "")
	require.NoError(t, err)
	assert.Contains(t, sql, "FROM segments sg")
	assert.Contains(t, sql, "WHERE sg.segment = 'loyal'")
	assert.Contains(t, sql, "HAVING MIN(e.timestamp) <= TIMESTAMP '2022-02-01T00:00:00' - INTERVAL '72 hours'")
}

func TestSynthesize_UnknownKind(t *testing.T) {
	s := newSynth(t)
	metric := sumMetric()
	metric.Kind = "ratio"

	_, err := s.Synthesize(model.ApproachOnDemand, baseExperiment(), baseDefaults(), metric, model.VariantStandard, "")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "kind", cfgErr.Field)
}

func TestSynthesize_Deterministic(t *testing.T) {
	s := newSynth(t)
	a, err := s.Synthesize(model.ApproachPreAgg, baseExperiment(), baseDefaults(), sumMetric(), model.VariantWeighted, "")
	require.NoError(t, err)
	b, err := s.Synthesize(model.ApproachPreAgg, baseExperiment(), baseDefaults(), sumMetric(), model.VariantWeighted, "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(a, ";\n"))
}

func TestParseQuantileMode(t *testing.T) {
	for in, want := range map[string]QuantileMode{"": QuantileExact, "exact": QuantileExact, "approx": QuantileApprox, "tdigest": QuantileTDigest} {
		got, err := ParseQuantileMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseQuantileMode("sketchy")
	require.Error(t, err)
}

func testCatalog() *model.Catalog {
	return &model.Catalog{
		Defaults: baseDefaults(),
		Experiments: []model.ExperimentSpec{
			baseExperiment(),
			{ID: "lookback", WindowType: model.WindowLookback},
		},
		Metrics: []model.MetricSpec{
			sumMetric(),
			{ID: "orders", Kind: model.AggregationCount, Table: "orders"},
		},
	}
}

func TestGenerateAll_CountsAndOrder(t *testing.T) {
	cat := testCatalog()
	// Only "broken" lacks a start date once defaults stop supplying one.
	cat.Defaults.StartDate = ""
	cat.Experiments[0].StartDate = "2021-11-01T00:00:00"
	cat.Experiments[1].StartDate = "2021-11-01T00:00:00"
	cat.Experiments = []model.ExperimentSpec{cat.Experiments[0], {ID: "broken"}, cat.Experiments[1]}

	s := newSynth(t, cat.Metrics...)
	batch, err := s.GenerateAll(context.Background(), cat, GenerateOpts{Concurrency: 2})
	require.NoError(t, err)

	// 2 good experiments x 2 metrics x 3 queries.
	require.Len(t, batch.Queries, 12)
	assert.Equal(t, 4, batch.Count(model.ApproachOnDemand))
	assert.Equal(t, 8, batch.Count(model.ApproachPreAgg))

	// 1 broken experiment x 2 metrics x 3 queries.
	require.Len(t, batch.Failures, 6)
	for _, f := range batch.Failures {
		assert.Equal(t, "broken", f.Key.Experiment)
		var cfgErr *ConfigurationError
		assert.ErrorAs(t, f.Err, &cfgErr)
	}

	var keys []string
	for _, q := range batch.Queries[:6] {
		keys = append(keys, q.File())
	}
	assert.Equal(t, []string{
		"ondemand/base__purchased_items.sql",
		"preagg/base__purchased_items__unweighted.sql",
		"preagg/base__purchased_items__weighted.sql",
		"ondemand/base__orders.sql",
		"preagg/base__orders__unweighted.sql",
		"preagg/base__orders__weighted.sql",
	}, keys)
	assert.Equal(t, "lookback", batch.Queries[6].Experiment)
}

func TestGenerateAll_CanceledContext(t *testing.T) {
	cat := testCatalog()
	s := newSynth(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GenerateAll(ctx, cat, GenerateOpts{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteAndReadManifest(t *testing.T) {
	cat := testCatalog()
	cat.Experiments = cat.Experiments[:1]
	s := newSynth(t)
	batch, err := s.GenerateAll(context.Background(), cat, GenerateOpts{})
	require.NoError(t, err)

	dir := t.TempDir()
	manifest, failures, err := Write(dir, batch)
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, manifest, 6)

	for _, e := range manifest {
		data, err := os.ReadFile(filepath.Join(dir, e.File))
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}

	loaded, err := ReadManifest(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, manifest, loaded)
	assert.Equal(t, model.ManifestEntry{
		Experiment: "base",
		Metric:     "purchased_items",
		Approach:   model.ApproachOnDemand,
		Variant:    model.VariantStandard,
		File:       "ondemand/base__purchased_items.sql",
	}, loaded[0])
}

func TestReadManifest_Missing(t *testing.T) {
	_, err := ReadManifest(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read manifest")
}

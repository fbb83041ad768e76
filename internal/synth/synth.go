// Package synth renders complete benchmark queries for each
// (approach, experiment, metric, variant) combination.
package synth

import (
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exp-bench/internal/model"
	"github.com/sells-group/exp-bench/internal/window"
)

//go:embed templates/*.sql.tmpl
var templateFS embed.FS

// QuantileMode selects how quantile metrics are computed by the engine.
type QuantileMode string

const (
	// QuantileExact uses PERCENTILE_CONT.
	QuantileExact QuantileMode = "exact"
	// QuantileApprox uses the engine's built-in approx_quantile.
	QuantileApprox QuantileMode = "approx"
	// QuantileTDigest uses t-digest; pre-aggregated queries read the sketch table.
	QuantileTDigest QuantileMode = "tdigest"
)

// ParseQuantileMode validates a quantile mode name. Empty means exact.
func ParseQuantileMode(s string) (QuantileMode, error) {
	switch QuantileMode(s) {
	case "", QuantileExact:
		return QuantileExact, nil
	case QuantileApprox, QuantileTDigest:
		return QuantileMode(s), nil
	default:
		return "", eris.Errorf("synth: unknown quantile mode %q", s)
	}
}

const exposureWeight = "CASE WHEN m.metric_date = CAST(u.first_exposure AS DATE) " +
	"THEN 1 - EXTRACT(EPOCH FROM u.first_exposure - DATE_TRUNC('day', u.first_exposure)) / 86400.0 " +
	"ELSE 1 END"

// Synthesizer renders queries from the embedded templates.
type Synthesizer struct {
	tmpl    *template.Template
	metrics map[string]model.MetricSpec
}

// New parses the query templates. metrics is the catalog used to resolve
// CUPED covariate references.
func New(metrics []model.MetricSpec) (*Synthesizer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.sql.tmpl")
	if err != nil {
		return nil, eris.Wrap(err, "synth: parse templates")
	}
	byID := make(map[string]model.MetricSpec, len(metrics))
	for _, m := range metrics {
		byID[m.ID] = m
	}
	return &Synthesizer{tmpl: tmpl, metrics: byID}, nil
}

type unitsData struct {
	ExposedName           string
	ExposureColumn        string
	ExposureTable         string
	ExperimentID          string
	StartDate             string
	EndDate               string
	WindowHours           int
	SkipPartial           bool
	Segment               *model.Segment
	Activation            *model.Activation
	ActivationEndDate     string
	IdentityColumn        string
	DimensionColumn       string
	DimensionIsActivation bool
}

type metricData struct {
	Units          string
	Metric         model.MetricSpec
	Window         string
	SketchWindow   string
	HasDimension   bool
	ValueAgg       string
	ValueRef       string
	Cuped          *model.Cuped
	CovariateTable string
	CovariateAgg   string
	CapPercentile  string
	QuantileExpr   string
	QuantileLevel  string
}

// Synthesize renders one query. exp is merged over defaults before use.
// Missing required fields return a *ConfigurationError.
func (s *Synthesizer) Synthesize(approach model.Approach, exp, defaults model.ExperimentSpec, metric model.MetricSpec, variant model.Variant, mode QuantileMode) (string, error) {
	merged := model.Merge(defaults, exp)
	if err := validate(merged, metric); err != nil {
		return "", err
	}
	if mode == "" {
		mode = QuantileExact
	}

	exposureColumn := "first_exposure_timestamp"
	if approach == model.ApproachPreAgg {
		exposureColumn = "first_exposure"
	}

	units, err := s.renderUnits(merged, exposureColumn)
	if err != nil {
		return "", err
	}

	data := metricData{
		Units:         units,
		Metric:        metric,
		HasDimension:  merged.Dimension != nil,
		ValueRef:      valueRef(metric.Capping),
		QuantileLevel: formatNumber(metric.QuantileLevel()),
	}
	if metric.Capping.IsPercentile() {
		data.CapPercentile = formatNumber(metric.Capping.Percentile)
	}

	// A disabled CUPED block renders exactly like an absent one.
	if metric.Cuped != nil && metric.Cuped.Enabled {
		covariate, err := s.covariate(metric)
		if err != nil {
			return "", err
		}
		data.Cuped = metric.Cuped
		if approach == model.ApproachPreAgg {
			data.CovariateTable = covariate.DailyTable()
			data.CovariateAgg = preaggValueAgg(covariate, false)
		} else {
			data.CovariateTable = covariate.Table
			data.CovariateAgg = onDemandValueAgg(covariate)
		}
	}

	var name string
	switch approach {
	case model.ApproachOnDemand:
		name = "ondemand"
		data.Window = window.Compile(merged, window.Timestamp)
		data.ValueAgg = onDemandValueAgg(metric)
	case model.ApproachPreAgg:
		name = "preagg"
		data.Window = window.Compile(merged, window.Date)
		data.ValueAgg = preaggValueAgg(metric, variant == model.VariantWeighted)
		if metric.Kind == model.AggregationQuantile && mode == QuantileTDigest {
			data.SketchWindow = window.SketchClause(merged)
		}
	default:
		return "", eris.Errorf("synth: unknown approach %q", approach)
	}

	if metric.Kind == model.AggregationQuantile && data.SketchWindow == "" {
		data.QuantileExpr = quantileExpr(mode, data.ValueRef, data.QuantileLevel)
	}

	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", eris.Wrapf(err, "synth: render %s/%s__%s", approach, merged.ID, metric.ID)
	}
	return b.String(), nil
}

func (s *Synthesizer) renderUnits(e model.ExperimentSpec, exposureColumn string) (string, error) {
	data := unitsData{
		ExposedName:       "units",
		ExposureColumn:    exposureColumn,
		ExposureTable:     e.Exposures(),
		ExperimentID:      e.ExperimentID,
		StartDate:         e.StartDate,
		EndDate:           e.EndDate,
		WindowHours:       e.WindowHours(),
		SkipPartial:       e.SkipPartial(),
		Segment:           e.Segment,
		Activation:        e.Activation,
		ActivationEndDate: e.EndDate,
	}
	if e.Activation != nil {
		data.ExposedName = "exposed"
		data.IdentityColumn = e.Activation.IdentityJoin
		if data.IdentityColumn == "" {
			data.IdentityColumn = "user_id"
		}
	}
	if d := e.Dimension; d != nil {
		if d.IsActivation() {
			data.DimensionIsActivation = true
		} else {
			data.DimensionColumn = d.Column
		}
	}

	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, "units", data); err != nil {
		return "", eris.Wrapf(err, "synth: render units for %s", e.ID)
	}
	return b.String(), nil
}

func (s *Synthesizer) covariate(metric model.MetricSpec) (model.MetricSpec, error) {
	ref := metric.Cuped.Covariate
	if ref == "" || ref == metric.ID {
		return metric, nil
	}
	cov, ok := s.metrics[ref]
	if !ok {
		return model.MetricSpec{}, &ConfigurationError{Metric: metric.ID, Field: "cuped.covariate"}
	}
	return cov, nil
}

func validate(e model.ExperimentSpec, m model.MetricSpec) error {
	switch {
	case e.ExperimentID == "":
		return &ConfigurationError{Experiment: e.ID, Metric: m.ID, Field: "experiment_id"}
	case e.StartDate == "":
		return &ConfigurationError{Experiment: e.ID, Metric: m.ID, Field: "start_date"}
	case e.EndDate == "":
		return &ConfigurationError{Experiment: e.ID, Metric: m.ID, Field: "end_date"}
	case m.Table == "":
		return &ConfigurationError{Experiment: e.ID, Metric: m.ID, Field: "table"}
	case e.Dimension.IsActivation() && e.Activation == nil:
		return &ConfigurationError{Experiment: e.ID, Metric: m.ID, Field: "activation"}
	case e.Dimension != nil && !e.Dimension.IsActivation() && e.Dimension.Column == "":
		return &ConfigurationError{Experiment: e.ID, Metric: m.ID, Field: "dimension.column"}
	}
	switch m.Kind {
	case model.AggregationSum, model.AggregationCount, model.AggregationQuantile:
		return nil
	default:
		return &ConfigurationError{Experiment: e.ID, Metric: m.ID, Field: "kind"}
	}
}

func onDemandValueAgg(m model.MetricSpec) string {
	if m.Kind == model.AggregationCount {
		return "COUNT(m.user_id)"
	}
	return fmt.Sprintf("COALESCE(SUM(%s), 0)", m.ValueExpr())
}

func preaggValueAgg(m model.MetricSpec, weighted bool) string {
	col := "m.value_sum"
	if m.Kind == model.AggregationCount {
		col = "m.value_count"
	}
	if weighted {
		return fmt.Sprintf("COALESCE(SUM(%s * %s), 0)", col, exposureWeight)
	}
	return fmt.Sprintf("COALESCE(SUM(%s), 0)", col)
}

func valueRef(c *model.Capping) string {
	switch {
	case c.IsPercentile():
		return "LEAST(uv.value, cap.cap_value)"
	case c != nil && c.Absolute > 0:
		return fmt.Sprintf("LEAST(uv.value, %s)", formatNumber(c.Absolute))
	default:
		return "uv.value"
	}
}

func quantileExpr(mode QuantileMode, ref, level string) string {
	switch mode {
	case QuantileApprox:
		return fmt.Sprintf("approx_quantile(%s, %s)", ref, level)
	case QuantileTDigest:
		return fmt.Sprintf("tdigest_percentile(%s, 100, %s)", ref, level)
	default:
		return fmt.Sprintf("PERCENTILE_CONT(%s) WITHIN GROUP (ORDER BY %s)", level, ref)
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Package window compiles an experiment's temporal configuration into SQL
// boundary predicates at timestamp precision (raw event tables) and date
// precision (pre-aggregated daily tables).
package window

import (
	"fmt"
	"strings"

	"github.com/sells-group/exp-bench/internal/model"
)

// Precision selects the granularity of the compiled clause.
type Precision int

const (
	// Timestamp compares event instants against the unit's first exposure instant.
	Timestamp Precision = iota
	// Date compares metric dates against the unit's exposure date.
	Date
)

func (p Precision) String() string {
	if p == Date {
		return "date"
	}
	return "timestamp"
}

// Default table aliases used by the query templates.
const (
	UnitAlias   = "u"
	MetricAlias = "m"
	SketchAlias = "s"
)

const (
	timestampJoin = "\n           AND "
	dateJoin      = "\n    AND "
)

// offset is the sign of an hour or day offset. Each case renders distinct
// clause text; a zero offset never emits an interval.
type offset int

const (
	offsetNegative offset = iota
	offsetZero
	offsetPositive
)

func offsetOf(n int) offset {
	switch {
	case n < 0:
		return offsetNegative
	case n > 0:
		return offsetPositive
	default:
		return offsetZero
	}
}

// Compile returns the window clause for spec at the given precision using
// the default u/m aliases.
func Compile(spec model.ExperimentSpec, p Precision) string {
	if p == Date {
		return DateClause(spec)
	}
	return TimestampClause(spec, UnitAlias, MetricAlias)
}

// TimestampClause builds the hour-precision window for on-demand queries.
func TimestampClause(spec model.ExperimentSpec, unitAlias, metricAlias string) string {
	delay := spec.Delay()
	windowHours := spec.WindowHours()
	endDate := spec.End()

	base := unitAlias + ".first_exposure_timestamp"
	col := metricAlias + ".timestamp"

	var start string
	switch offsetOf(delay) {
	case offsetNegative:
		start = fmt.Sprintf("%s >= %s - INTERVAL '%d hours'", col, base, -delay)
	case offsetPositive:
		start = fmt.Sprintf("%s >= %s + INTERVAL '%d hours'", col, base, delay)
	case offsetZero:
		start = fmt.Sprintf("%s >= %s", col, base)
	}

	var end string
	if spec.AttributionMode() == model.AttributionExperimentDuration {
		end = fmt.Sprintf("%s <= '%s'", col, endDate)
	} else {
		total := delay + windowHours
		if offsetOf(total) == offsetNegative {
			end = fmt.Sprintf("%s <= %s - INTERVAL '%d hours'", col, base, -total)
		} else {
			end = fmt.Sprintf("%s <= %s + INTERVAL '%d hours'", col, base, total)
		}
	}

	clause := start + timestampJoin + end

	if spec.Window() == model.WindowLookback {
		clause += timestampJoin + fmt.Sprintf("%s + INTERVAL '%d hours' >= '%s'", col, abs(windowHours), endDate)
	}
	return clause
}

// DateClause builds the day-precision window for pre-aggregated queries.
// Hour offsets are widened outward to whole days so the date window always
// covers the hour window.
func DateClause(spec model.ExperimentSpec) string {
	delay := spec.Delay()
	windowHours := spec.WindowHours()
	endDate := spec.End()

	dd := delayDays(delay)
	wd := windowDays(windowHours)

	var start string
	switch offsetOf(dd) {
	case offsetNegative:
		start = fmt.Sprintf("m.metric_date >= CAST(u.first_exposure - INTERVAL '%d days' AS DATE)", -dd)
	case offsetPositive:
		start = fmt.Sprintf("m.metric_date >= CAST(u.first_exposure + INTERVAL '%d days' AS DATE)", dd)
	case offsetZero:
		start = "m.metric_date >= CAST(u.first_exposure AS DATE)"
	}

	var end string
	if spec.AttributionMode() == model.AttributionExperimentDuration {
		end = fmt.Sprintf("m.metric_date <= '%s'::date", endDate)
	} else {
		total := upperDays(delay, windowHours)
		if offsetOf(total) == offsetNegative {
			end = fmt.Sprintf("m.metric_date <= CAST(u.first_exposure - INTERVAL '%d days' AS DATE)", -total)
		} else {
			end = fmt.Sprintf("m.metric_date <= CAST(u.first_exposure + INTERVAL '%d days' AS DATE)", total)
		}
	}

	clause := start + dateJoin + end

	if spec.Window() == model.WindowLookback {
		clause += dateJoin + fmt.Sprintf("m.metric_date + %d >= '%s'::date", wd, endDate)
	}
	return clause
}

// SketchClause is DateClause re-aliased onto the sketch table. It is derived
// from DateClause rather than built separately so the two cannot drift.
func SketchClause(spec model.ExperimentSpec) string {
	return strings.ReplaceAll(DateClause(spec),
		MetricAlias+".metric_date", SketchAlias+".metric_date")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

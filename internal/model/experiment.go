package model

// WindowType selects how the metric window is anchored.
type WindowType string

const (
	WindowConversion WindowType = "conversion"
	WindowLookback   WindowType = "lookback"
)

// Attribution selects the upper bound of a unit's metric window.
type Attribution string

const (
	AttributionFirstExposure      Attribution = "first_exposure"
	AttributionExperimentDuration Attribution = "experiment_duration"
)

// DimensionType describes where a dimension value comes from.
type DimensionType string

const (
	DimensionColumn     DimensionType = "column"
	DimensionActivation DimensionType = "activation"
)

// Window defaults applied when neither the experiment nor the catalog
// defaults set a value.
const (
	DefaultDelayHours            = 0
	DefaultConversionWindowHours = 72
	DefaultExposureTable         = "viewed_experiment"
	DefaultEndDate               = "2022-02-01T00:00:00"
)

// Activation restricts units to those who performed an activation event
// between exposure and the activation end date.
type Activation struct {
	Table     string `yaml:"table" json:"table"`
	Condition string `yaml:"condition" json:"condition,omitempty"`
	// IdentityJoin names the unit id column in the activation table when it
	// differs from user_id (e.g. anonymous_id).
	IdentityJoin string `yaml:"identity_join" json:"identity_join,omitempty"`
}

// Segment limits units to members of a segment table.
type Segment struct {
	Table     string `yaml:"table" json:"table"`
	Condition string `yaml:"condition" json:"condition,omitempty"`
}

// Dimension splits results by an extra grouping column.
type Dimension struct {
	Type   DimensionType `yaml:"type" json:"type"`
	Column string        `yaml:"column" json:"column,omitempty"`
}

// IsActivation reports whether the dimension splits on activation status.
func (d *Dimension) IsActivation() bool {
	return d != nil && d.Type == DimensionActivation
}

// ExperimentSpec is an experiment's temporal and targeting configuration.
// Pointer fields distinguish "unset" from zero so catalog defaults can be
// merged underneath.
type ExperimentSpec struct {
	ID                    string      `yaml:"id" json:"id"`
	ExperimentID          string      `yaml:"experiment_id" json:"experiment_id"`
	StartDate             string      `yaml:"start_date" json:"start_date"`
	EndDate               string      `yaml:"end_date" json:"end_date"`
	ExposureTable         string      `yaml:"exposure_table" json:"exposure_table,omitempty"`
	DelayHours            *int        `yaml:"delay_hours" json:"delay_hours,omitempty"`
	ConversionWindowHours *int        `yaml:"conversion_window_hours" json:"conversion_window_hours,omitempty"`
	WindowType            WindowType  `yaml:"window_type" json:"window_type,omitempty"`
	Attribution           Attribution `yaml:"attribution" json:"attribution,omitempty"`
	SkipPartialData       *bool       `yaml:"skip_partial_data" json:"skip_partial_data,omitempty"`
	Activation            *Activation `yaml:"activation" json:"activation,omitempty"`
	Segment               *Segment    `yaml:"segment" json:"segment,omitempty"`
	Dimension             *Dimension  `yaml:"dimension" json:"dimension,omitempty"`
}

// Merge overlays e on top of defaults; fields set on e win.
func Merge(defaults, e ExperimentSpec) ExperimentSpec {
	out := defaults
	if e.ID != "" {
		out.ID = e.ID
	}
	if e.ExperimentID != "" {
		out.ExperimentID = e.ExperimentID
	}
	if e.StartDate != "" {
		out.StartDate = e.StartDate
	}
	if e.EndDate != "" {
		out.EndDate = e.EndDate
	}
	if e.ExposureTable != "" {
		out.ExposureTable = e.ExposureTable
	}
	if e.DelayHours != nil {
		out.DelayHours = e.DelayHours
	}
	if e.ConversionWindowHours != nil {
		out.ConversionWindowHours = e.ConversionWindowHours
	}
	if e.WindowType != "" {
		out.WindowType = e.WindowType
	}
	if e.Attribution != "" {
		out.Attribution = e.Attribution
	}
	if e.SkipPartialData != nil {
		out.SkipPartialData = e.SkipPartialData
	}
	if e.Activation != nil {
		out.Activation = e.Activation
	}
	if e.Segment != nil {
		out.Segment = e.Segment
	}
	if e.Dimension != nil {
		out.Dimension = e.Dimension
	}
	return out
}

// Delay returns the configured delay in hours, or the default.
func (e ExperimentSpec) Delay() int {
	if e.DelayHours == nil {
		return DefaultDelayHours
	}
	return *e.DelayHours
}

// WindowHours returns the conversion window length in hours, or the default.
func (e ExperimentSpec) WindowHours() int {
	if e.ConversionWindowHours == nil {
		return DefaultConversionWindowHours
	}
	return *e.ConversionWindowHours
}

// Window returns the window type, defaulting to conversion.
func (e ExperimentSpec) Window() WindowType {
	if e.WindowType == "" {
		return WindowConversion
	}
	return e.WindowType
}

// AttributionMode returns the attribution policy, defaulting to first exposure.
func (e ExperimentSpec) AttributionMode() Attribution {
	if e.Attribution == "" {
		return AttributionFirstExposure
	}
	return e.Attribution
}

// End returns the experiment end date literal, or the default.
func (e ExperimentSpec) End() string {
	if e.EndDate == "" {
		return DefaultEndDate
	}
	return e.EndDate
}

// Exposures returns the exposure table name, or the default.
func (e ExperimentSpec) Exposures() string {
	if e.ExposureTable == "" {
		return DefaultExposureTable
	}
	return e.ExposureTable
}

// SkipPartial reports whether units without a complete window are dropped.
func (e ExperimentSpec) SkipPartial() bool {
	return e.SkipPartialData != nil && *e.SkipPartialData
}

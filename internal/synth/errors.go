package synth

import "fmt"

// ConfigurationError reports a required experiment or metric field that is
// missing. It is fatal to one query only.
type ConfigurationError struct {
	Experiment string
	Metric     string
	Field      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("synth: %s__%s: missing required field %q", e.Experiment, e.Metric, e.Field)
}

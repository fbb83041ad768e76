package model

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Catalog is the set of experiments and metrics to generate queries for.
type Catalog struct {
	Defaults    ExperimentSpec   `yaml:"defaults"`
	Experiments []ExperimentSpec `yaml:"experiments"`
	Metrics     []MetricSpec     `yaml:"metrics"`
}

type experimentsFile struct {
	Defaults    ExperimentSpec   `yaml:"defaults"`
	Experiments []ExperimentSpec `yaml:"experiments"`
}

type metricsFile struct {
	Metrics []MetricSpec `yaml:"metrics"`
}

// LoadCatalog reads experiments.yaml and metrics.yaml from dir.
func LoadCatalog(dir string) (*Catalog, error) {
	var ef experimentsFile
	if err := readYAML(filepath.Join(dir, "experiments.yaml"), &ef); err != nil {
		return nil, err
	}
	var mf metricsFile
	if err := readYAML(filepath.Join(dir, "metrics.yaml"), &mf); err != nil {
		return nil, err
	}
	return &Catalog{
		Defaults:    ef.Defaults,
		Experiments: ef.Experiments,
		Metrics:     mf.Metrics,
	}, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "catalog: read %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "catalog: parse %s", path)
	}
	return nil
}

// Filter keeps only the named experiments and metrics. An empty id list
// keeps everything.
func (c *Catalog) Filter(experimentIDs, metricIDs []string) *Catalog {
	out := &Catalog{Defaults: c.Defaults}
	expSet := toSet(experimentIDs)
	for _, e := range c.Experiments {
		if expSet == nil || expSet[e.ID] {
			out.Experiments = append(out.Experiments, e)
		}
	}
	metSet := toSet(metricIDs)
	for _, m := range c.Metrics {
		if metSet == nil || metSet[m.ID] {
			out.Metrics = append(out.Metrics, m)
		}
	}
	return out
}

// FilterManifest applies experiment, metric and approach filters to a
// manifest, preserving order. Approach "both" or "" keeps all approaches.
func FilterManifest(entries []ManifestEntry, experimentIDs, metricIDs []string, approach string) []ManifestEntry {
	expSet := toSet(experimentIDs)
	metSet := toSet(metricIDs)
	var out []ManifestEntry
	for _, e := range entries {
		if expSet != nil && !expSet[e.Experiment] {
			continue
		}
		if metSet != nil && !metSet[e.Metric] {
			continue
		}
		if approach != "" && approach != "both" && string(e.Approach) != approach {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SplitIDs parses a comma-separated id list, trimming blanks.
func SplitIDs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

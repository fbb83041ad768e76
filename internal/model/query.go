package model

import "fmt"

// Approach is a metric computation strategy.
type Approach string

const (
	ApproachOnDemand Approach = "ondemand"
	ApproachPreAgg   Approach = "preagg"
)

// Variant distinguishes the queries generated for one approach.
type Variant string

const (
	VariantStandard   Variant = "standard"
	VariantUnweighted Variant = "unweighted"
	VariantWeighted   Variant = "weighted"
)

// Variants returns the variants generated for an approach. On-demand has
// exactly one; pre-aggregated has exactly two.
func (a Approach) Variants() []Variant {
	if a == ApproachPreAgg {
		return []Variant{VariantUnweighted, VariantWeighted}
	}
	return []Variant{VariantStandard}
}

// QueryKey identifies one generated query.
type QueryKey struct {
	Experiment string   `json:"experiment"`
	Metric     string   `json:"metric"`
	Approach   Approach `json:"approach"`
	Variant    Variant  `json:"variant"`
}

// String renders the key for progress output.
func (k QueryKey) String() string {
	s := fmt.Sprintf("%s > %s > %s", k.Approach, k.Experiment, k.Metric)
	if k.Variant != "" && k.Variant != VariantStandard {
		s += " > " + string(k.Variant)
	}
	return s
}

// File returns the generated query's path relative to the output directory.
func (k QueryKey) File() string {
	if k.Approach == ApproachOnDemand {
		return fmt.Sprintf("%s/%s__%s.sql", k.Approach, k.Experiment, k.Metric)
	}
	return fmt.Sprintf("%s/%s__%s__%s.sql", k.Approach, k.Experiment, k.Metric, k.Variant)
}

// GeneratedQuery is a synthesized query and its identity.
type GeneratedQuery struct {
	QueryKey
	SQL string `json:"-"`
}

// ManifestEntry is the persisted descriptor of a generated query.
type ManifestEntry struct {
	Experiment string   `json:"experiment"`
	Metric     string   `json:"metric"`
	Approach   Approach `json:"approach"`
	Variant    Variant  `json:"variant"`
	File       string   `json:"file"`
}

// Key returns the entry's query key. A missing variant reads as standard.
func (e ManifestEntry) Key() QueryKey {
	v := e.Variant
	if v == "" {
		v = VariantStandard
	}
	return QueryKey{Experiment: e.Experiment, Metric: e.Metric, Approach: e.Approach, Variant: v}
}

// Entry converts a generated query to its manifest descriptor.
func (q GeneratedQuery) Entry() ManifestEntry {
	return ManifestEntry{
		Experiment: q.Experiment,
		Metric:     q.Metric,
		Approach:   q.Approach,
		Variant:    q.Variant,
		File:       q.File(),
	}
}

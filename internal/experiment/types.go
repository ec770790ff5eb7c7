// Package experiment implements the experimentation engine: the
// registry and lifecycle manager for experiments, sticky subject
// assignment, per-variant metric aggregation, and report building.
package experiment

import (
	"fmt"
	"time"
)

// Type identifies the variant-selection policy of an experiment
type Type int

const (
	// TypeSimpleAB - weighted-random split between variants
	TypeSimpleAB Type = iota

	// TypeMultivariate - uniform-random pick over pre-flattened combinations
	TypeMultivariate

	// TypeBandit - epsilon-greedy adaptive allocation
	TypeBandit

	// TypeBayesian - greedy on observed conversion rate (posterior-sampling
	// policy not implemented yet; see Selector)
	TypeBayesian
)

// String returns the string representation of a Type
func (t Type) String() string {
	switch t {
	case TypeSimpleAB:
		return "SimpleAB"
	case TypeMultivariate:
		return "Multivariate"
	case TypeBandit:
		return "Bandit"
	case TypeBayesian:
		return "Bayesian"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// ParseType converts a string to a Type
func ParseType(s string) Type {
	switch s {
	case "SimpleAB":
		return TypeSimpleAB
	case "Multivariate":
		return TypeMultivariate
	case "Bandit":
		return TypeBandit
	case "Bayesian":
		return TypeBayesian
	default:
		return TypeSimpleAB
	}
}

// VariantConfig is the caller-supplied definition of one treatment arm
type VariantConfig struct {
	// ID is the variant identifier; generated when empty
	ID string

	// Name is a human-readable label
	Name string

	// Weight is the traffic weight used by the weighted-random policy
	Weight int

	// Parameters is opaque configuration returned to the caller when a
	// subject resolves to this variant
	Parameters map[string]interface{}

	// IsControl marks the baseline arm (at most one recommended)
	IsControl bool
}

// Result holds the running aggregate for one variant. Counters are
// only ever written by the metrics aggregator under the owning
// experiment's lock.
type Result struct {
	Participants int64
	Conversions  int64

	// metricMeans/metricCounts track the running mean and observation
	// count per metric name, using the incremental mean formula
	metricMeans  map[string]float64
	metricCounts map[string]int64

	// Informational copies of the latest significance computation
	// against the chosen control
	PValue      float64
	Lift        float64
	LiftDefined bool
}

// newResult creates an empty result record
func newResult() Result {
	return Result{
		metricMeans:  make(map[string]float64),
		metricCounts: make(map[string]int64),
	}
}

// ConversionRate returns conversions/participants. The second return
// value is false while the variant has no participants and the rate is
// undefined.
func (r *Result) ConversionRate() (float64, bool) {
	if r.Participants == 0 {
		return 0, false
	}
	return float64(r.Conversions) / float64(r.Participants), true
}

// MetricMean returns the running mean for a metric name, and whether
// any observation has been recorded for it.
func (r *Result) MetricMean(name string) (float64, bool) {
	mean, ok := r.metricMeans[name]
	return mean, ok
}

// MetricMeans returns a copy of all running metric means.
func (r *Result) MetricMeans() map[string]float64 {
	means := make(map[string]float64, len(r.metricMeans))
	for name, mean := range r.metricMeans {
		means[name] = mean
	}
	return means
}

// Variant is one treatment arm of an experiment
type Variant struct {
	ID           string
	ExperimentID string
	Name         string
	Weight       int
	Parameters   map[string]interface{}
	IsControl    bool
	Result       Result
}

// Experiment is a named test comparing two or more variants on a
// primary metric. Lifecycle status lives in the state machine owned by
// the registry; the struct itself carries only the aggregate fields.
type Experiment struct {
	ID          string
	Name        string
	Description string
	Kind        Type

	// Variants in insertion order; order is the display and tie-break order
	Variants []*Variant

	PrimaryMetric    string
	SecondaryMetrics map[string]bool

	// TargetSampleSize grows with variant count to preserve per-arm power
	TargetSampleSize int

	CurrentSignificance float64
	IsSignificant       bool

	// Winner is set by the final results computation on stop
	Winner string

	StartTime time.Time
	EndTime   time.Time
}

// Variant returns the variant with the given id, or nil
func (e *Experiment) Variant(id string) *Variant {
	for _, v := range e.Variants {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// ControlVariant returns the designated control, or the first variant
// when none is flagged
func (e *Experiment) ControlVariant() *Variant {
	for _, v := range e.Variants {
		if v.IsControl {
			return v
		}
	}
	if len(e.Variants) == 0 {
		return nil
	}
	return e.Variants[0]
}

// TotalParticipants sums participants across all variants
func (e *Experiment) TotalParticipants() int64 {
	var total int64
	for _, v := range e.Variants {
		total += v.Result.Participants
	}
	return total
}

// TotalConversions sums conversions across all variants
func (e *Experiment) TotalConversions() int64 {
	var total int64
	for _, v := range e.Variants {
		total += v.Result.Conversions
	}
	return total
}

// Assignment is the sticky mapping of one subject to one variant
// within one experiment. Field mutation happens under the owning
// experiment's lock; the assignment store only guards the map itself.
type Assignment struct {
	SubjectID    string
	ExperimentID string
	VariantID    string
	AssignedAt   time.Time
	HasConverted bool
	Metrics      map[string]float64
	LastSeen     time.Time
}

// Selection is what a subject resolution returns to the caller: the
// variant identity plus its opaque parameters.
type Selection struct {
	VariantID  string
	Parameters map[string]interface{}
}

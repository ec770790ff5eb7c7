package experiment

import (
	"fmt"
	"sort"
	"time"
)

// VariantReport is the per-arm slice of a report
type VariantReport struct {
	VariantID      string
	Name           string
	IsControl      bool
	Participants   int64
	Conversions    int64
	ConversionRate float64
	HasData        bool
	MetricMeans    map[string]float64
	PValue         float64
	Lift           float64
	LiftDefined    bool
}

// Report is a point-in-time summary of one experiment
type Report struct {
	ExperimentID     string
	Name             string
	Kind             Type
	Status           string
	Participants     int64
	Conversions      int64
	ConversionRate   float64
	TargetSampleSize int
	Significance     float64
	IsSignificant    bool
	Winner           string
	Lift             float64
	LiftDefined      bool
	StartTime        time.Time
	EndTime          time.Time
	Variants         []VariantReport
}

// ListExperiments builds a report for every known experiment, active
// and completed, ordered by experiment id for stable output.
func (r *Registry) ListExperiments() []*Report {
	r.mu.RLock()
	ids := make([]string, 0, len(r.active)+len(r.completed))
	for id := range r.active {
		ids = append(ids, id)
	}
	for id := range r.completed {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)

	reports := make([]*Report, 0, len(ids))
	for _, id := range ids {
		report, err := r.GetReport(id)
		if err != nil {
			// Removed between snapshot and report; skip
			continue
		}
		reports = append(reports, report)
	}
	return reports
}

// GetReport builds a snapshot report for an experiment in the active
// or completed set. Returns ErrNotFound for unknown ids.
func (r *Registry) GetReport(experimentID string) (*Report, error) {
	inst, ok := r.lookup(experimentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, experimentID)
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()

	exp := inst.exp

	report := &Report{
		ExperimentID:     exp.ID,
		Name:             exp.Name,
		Kind:             exp.Kind,
		Status:           inst.machine.CurrentStatus().String(),
		Participants:     exp.TotalParticipants(),
		Conversions:      exp.TotalConversions(),
		TargetSampleSize: exp.TargetSampleSize,
		Significance:     exp.CurrentSignificance,
		IsSignificant:    exp.IsSignificant,
		Winner:           exp.Winner,
		StartTime:        exp.StartTime,
		EndTime:          exp.EndTime,
		Variants:         make([]VariantReport, 0, len(exp.Variants)),
	}

	if report.Participants > 0 {
		report.ConversionRate = float64(report.Conversions) / float64(report.Participants)
	}

	for _, v := range exp.Variants {
		rate, hasData := v.Result.ConversionRate()
		vr := VariantReport{
			VariantID:      v.ID,
			Name:           v.Name,
			IsControl:      v.IsControl,
			Participants:   v.Result.Participants,
			Conversions:    v.Result.Conversions,
			ConversionRate: rate,
			HasData:        hasData,
			MetricMeans:    v.Result.MetricMeans(),
			PValue:         v.Result.PValue,
			Lift:           v.Result.Lift,
			LiftDefined:    v.Result.LiftDefined,
		}
		report.Variants = append(report.Variants, vr)

		// Top-level lift comes from the comparison arm of the latest
		// significance computation
		if v.Result.LiftDefined && !report.LiftDefined {
			report.Lift = v.Result.Lift
			report.LiftDefined = true
		}
	}

	return report, nil
}

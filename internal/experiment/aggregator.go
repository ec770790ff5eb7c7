package experiment

import (
	"github.com/rs/zerolog"

	"github.com/playforge/experiments/internal/stats"
)

// Aggregator owns the per-variant running counters. It is the single
// writer of Result records; every method assumes the caller holds the
// owning experiment's lock, which keeps the non-associative running
// mean update atomic with the counter increment.
type Aggregator struct {
	minSample int64
	threshold float64
	logger    zerolog.Logger
}

// NewAggregator creates an aggregator. minSample is the per-arm
// participant floor below which significance is not evaluable;
// threshold is the significance flag cutoff.
func NewAggregator(minSample int64, threshold float64, logger zerolog.Logger) *Aggregator {
	if minSample <= 0 {
		minSample = stats.MinSampleSize
	}
	return &Aggregator{
		minSample: minSample,
		threshold: threshold,
		logger:    logger.With().Str("component", "aggregator").Logger(),
	}
}

// ApplyParticipant counts one new exposure on the variant.
func (a *Aggregator) ApplyParticipant(v *Variant) {
	v.Result.Participants++
}

// ApplyConversion counts one conversion on the variant and folds the
// metric value into the primary metric's running mean.
func (a *Aggregator) ApplyConversion(v *Variant, metricName string, value float64) {
	v.Result.Conversions++
	a.foldMetric(v, metricName, value)
}

// ApplySecondaryMetric folds a secondary metric observation into its
// running mean without touching the conversion counter.
func (a *Aggregator) ApplySecondaryMetric(v *Variant, metricName string, value float64) {
	a.foldMetric(v, metricName, value)
}

// foldMetric updates the running mean with the post-increment
// observation count, newMean = (oldMean*(n-1) + value) / n.
func (a *Aggregator) foldMetric(v *Variant, metricName string, value float64) {
	v.Result.metricCounts[metricName]++
	n := v.Result.metricCounts[metricName]
	v.Result.metricMeans[metricName] = stats.RunningMean(v.Result.metricMeans[metricName], n, value)
}

// RecomputeSignificance re-evaluates the experiment's two-arm
// significance after a counter update. The baseline is the designated
// control (or the first variant when none is flagged); the comparison
// arm is the first non-baseline variant with data. Arms beyond those
// two never participate in the decision. Returns false when fewer than
// two variants have data and nothing was recomputed.
func (a *Aggregator) RecomputeSignificance(exp *Experiment) bool {
	withData := 0
	for _, v := range exp.Variants {
		if v.Result.Participants > 0 {
			withData++
		}
	}
	if withData < 2 {
		return false
	}

	control := exp.ControlVariant()
	var comparison *Variant
	for _, v := range exp.Variants {
		if v != control && v.Result.Participants > 0 {
			comparison = v
			break
		}
	}
	if comparison == nil {
		return false
	}

	controlArm := stats.Arm{
		Participants: control.Result.Participants,
		Conversions:  control.Result.Conversions,
	}
	comparisonArm := stats.Arm{
		Participants: comparison.Result.Participants,
		Conversions:  comparison.Result.Conversions,
	}

	score := stats.Significance(controlArm, comparisonArm, a.minSample)
	exp.CurrentSignificance = score
	// Lower score means a larger observed effect; the flag compares
	// score >= threshold, so near-identical arms read as significant.
	exp.IsSignificant = score > 0 && score >= a.threshold

	// Informational copies on the comparison arm
	comparison.Result.PValue = score
	if lift, ok := stats.Lift(controlArm.Rate(), comparisonArm.Rate()); ok {
		comparison.Result.Lift = lift
		comparison.Result.LiftDefined = true
	} else {
		comparison.Result.Lift = 0
		comparison.Result.LiftDefined = false
	}

	a.logger.Debug().
		Str("experiment_id", exp.ID).
		Str("control", control.ID).
		Str("comparison", comparison.ID).
		Float64("score", score).
		Bool("is_significant", exp.IsSignificant).
		Msg("Significance recomputed")

	return true
}

// CalculateFinalResults decides the winner on stop: the variant with
// the maximum conversion rate among variants with participants,
// independent of whether significance was ever reached. This is a
// separate decision path from the rotation check on IsSignificant and
// the two can disagree. Returns an empty id when no variant has data.
func (a *Aggregator) CalculateFinalResults(exp *Experiment) string {
	a.RecomputeSignificance(exp)

	var winner *Variant
	bestRate := -1.0
	for _, v := range exp.Variants {
		rate, ok := v.Result.ConversionRate()
		if !ok {
			continue
		}
		if rate > bestRate {
			winner = v
			bestRate = rate
		}
	}

	if winner == nil {
		exp.Winner = ""
		return ""
	}

	exp.Winner = winner.ID
	a.logger.Info().
		Str("experiment_id", exp.ID).
		Str("winner", winner.ID).
		Float64("conversion_rate", bestRate).
		Bool("is_significant", exp.IsSignificant).
		Msg("Final results calculated")

	return winner.ID
}

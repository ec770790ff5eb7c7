// Package stats provides the pure statistical primitives used by the
// experimentation engine: a two-proportion significance approximation,
// relative lift, and incremental running means. Nothing here holds state.
package stats

import "math"

// MinSampleSize is the minimum number of participants each arm needs
// before a significance score is considered evaluable.
const MinSampleSize = 30

// Arm holds the observed counts for one experiment arm.
type Arm struct {
	Participants int64
	Conversions  int64
}

// Rate returns the arm's conversion rate, or 0 if it has no participants.
func (a Arm) Rate() float64 {
	if a.Participants == 0 {
		return 0
	}
	return float64(a.Conversions) / float64(a.Participants)
}

// Significance computes the two-proportion significance approximation
// between a control arm and a test arm.
//
// The score is exp(-z^2/2) where z is the pooled two-proportion z
// statistic; it decreases monotonically as the observed effect grows.
// If either arm has fewer than minSample participants the result is 0,
// meaning "not yet evaluable" rather than an error.
func Significance(control, test Arm, minSample int64) float64 {
	if control.Participants < minSample || test.Participants < minSample {
		return 0
	}

	pooled := float64(control.Conversions+test.Conversions) /
		float64(control.Participants+test.Participants)

	se := math.Sqrt(pooled * (1 - pooled) *
		(1/float64(control.Participants) + 1/float64(test.Participants)))

	z := 0.0
	if se > 0 {
		z = math.Abs(test.Rate()-control.Rate()) / se
	}

	return math.Exp(-z * z / 2)
}

// Lift returns the relative change of the test rate over the control
// rate. The second return value is false when the control rate is zero
// and lift is undefined.
func Lift(controlRate, testRate float64) (float64, bool) {
	if controlRate == 0 {
		return 0, false
	}
	return (testRate - controlRate) / controlRate, true
}

// RunningMean folds value into oldMean given the post-increment
// observation count n. The incremental form is required: callers track
// means, not sums, and a lost update is unrecoverable.
func RunningMean(oldMean float64, n int64, value float64) float64 {
	if n <= 0 {
		return oldMean
	}
	return (oldMean*float64(n-1) + value) / float64(n)
}

package states

import (
	"time"

	"github.com/rs/zerolog"
)

// ExperimentContext provides experiment-specific information to states
// for making decisions
type ExperimentContext struct {
	// ExperimentID uniquely identifies this experiment
	ExperimentID string

	// Logger for state-specific logging
	Logger zerolog.Logger

	// VariantCount is the number of variants registered on the experiment
	VariantCount int

	// StartTime is when the experiment started (StatusRunning entered)
	StartTime time.Time

	// EndTime is when the experiment reached a terminal status
	EndTime time.Time

	// PauseTime is when the experiment was paused (if paused)
	PauseTime time.Time

	// TotalPauseDuration tracks total time spent paused
	TotalPauseDuration time.Duration

	// Winner is the variant ID of the winning arm (empty until decided)
	Winner string

	// Metadata for custom state data
	Metadata map[string]interface{}
}

// NewExperimentContext creates a new experiment context
func NewExperimentContext(experimentID string, variantCount int, logger zerolog.Logger) *ExperimentContext {
	return &ExperimentContext{
		ExperimentID: experimentID,
		VariantCount: variantCount,
		Logger:       logger.With().Str("experiment_id", experimentID).Logger(),
		Metadata:     make(map[string]interface{}),
	}
}

// GetElapsedTime returns the time elapsed since the experiment started,
// excluding pauses
func (ec *ExperimentContext) GetElapsedTime() time.Duration {
	if ec.StartTime.IsZero() {
		return 0
	}

	elapsed := time.Since(ec.StartTime)
	return elapsed - ec.TotalPauseDuration
}

// SetMetadata stores custom data for states
func (ec *ExperimentContext) SetMetadata(key string, value interface{}) {
	ec.Metadata[key] = value
}

// GetMetadata retrieves custom data stored by states
func (ec *ExperimentContext) GetMetadata(key string) (interface{}, bool) {
	val, exists := ec.Metadata[key]
	return val, exists
}

package states

import (
	"fmt"
	"time"
)

// DraftState represents a registered experiment not yet taking traffic
type DraftState struct{}

func NewDraftState() State {
	return &DraftState{}
}

func (s *DraftState) Status() Status {
	return StatusDraft
}

func (s *DraftState) Enter(ctx *ExperimentContext) error {
	ctx.Logger.Debug().Msg("Entering Draft state")
	return nil
}

func (s *DraftState) Exit(ctx *ExperimentContext) error {
	ctx.Logger.Debug().Msg("Exiting Draft state")
	return nil
}

func (s *DraftState) Validate(ctx *ExperimentContext) error {
	if ctx.VariantCount < 1 {
		return fmt.Errorf("experiment needs at least 1 variant, got %d", ctx.VariantCount)
	}
	return nil
}

// RunningState represents an experiment actively assigning traffic
type RunningState struct{}

func NewRunningState() State {
	return &RunningState{}
}

func (s *RunningState) Status() Status {
	return StatusRunning
}

func (s *RunningState) Enter(ctx *ExperimentContext) error {
	// Only the first entry records the start; a resume keeps the
	// original start time so elapsed time survives pause cycles.
	if ctx.StartTime.IsZero() {
		ctx.StartTime = time.Now()
	}
	ctx.Logger.Info().
		Time("start_time", ctx.StartTime).
		Msg("Experiment running")
	return nil
}

func (s *RunningState) Exit(ctx *ExperimentContext) error {
	elapsed := ctx.GetElapsedTime()
	ctx.Logger.Info().
		Dur("elapsed", elapsed).
		Msg("Exiting running state")
	return nil
}

func (s *RunningState) Validate(ctx *ExperimentContext) error {
	if ctx.VariantCount < 1 {
		return fmt.Errorf("cannot run an experiment with no variants")
	}
	return nil
}

// PausedState represents a temporarily suspended experiment
type PausedState struct{}

func NewPausedState() State {
	return &PausedState{}
}

func (s *PausedState) Status() Status {
	return StatusPaused
}

func (s *PausedState) Enter(ctx *ExperimentContext) error {
	ctx.PauseTime = time.Now()
	ctx.Logger.Info().
		Time("pause_time", ctx.PauseTime).
		Msg("Experiment paused")
	return nil
}

func (s *PausedState) Exit(ctx *ExperimentContext) error {
	if !ctx.PauseTime.IsZero() {
		pauseDuration := time.Since(ctx.PauseTime)
		ctx.TotalPauseDuration += pauseDuration
		ctx.Logger.Info().
			Dur("pause_duration", pauseDuration).
			Dur("total_pause_duration", ctx.TotalPauseDuration).
			Msg("Experiment resumed")
	}
	return nil
}

func (s *PausedState) Validate(ctx *ExperimentContext) error {
	if ctx.StartTime.IsZero() {
		return fmt.Errorf("cannot pause an experiment that hasn't started")
	}
	return nil
}

// CompletedState represents an experiment stopped with final results
type CompletedState struct{}

func NewCompletedState() State {
	return &CompletedState{}
}

func (s *CompletedState) Status() Status {
	return StatusCompleted
}

func (s *CompletedState) Enter(ctx *ExperimentContext) error {
	ctx.EndTime = time.Now()
	elapsed := ctx.GetElapsedTime()
	ctx.Logger.Info().
		Str("winner", ctx.Winner).
		Dur("experiment_duration", elapsed).
		Msg("Experiment completed")
	return nil
}

func (s *CompletedState) Exit(ctx *ExperimentContext) error {
	ctx.Logger.Debug().Msg("Exiting completed state")
	return nil
}

func (s *CompletedState) Validate(ctx *ExperimentContext) error {
	return nil
}

// CancelledState represents an abandoned experiment
type CancelledState struct{}

func NewCancelledState() State {
	return &CancelledState{}
}

func (s *CancelledState) Status() Status {
	return StatusCancelled
}

func (s *CancelledState) Enter(ctx *ExperimentContext) error {
	ctx.EndTime = time.Now()
	ctx.Logger.Info().Msg("Experiment cancelled")
	return nil
}

func (s *CancelledState) Exit(ctx *ExperimentContext) error {
	ctx.Logger.Debug().Msg("Exiting cancelled state")
	return nil
}

func (s *CancelledState) Validate(ctx *ExperimentContext) error {
	return nil
}

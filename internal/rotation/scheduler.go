// Package rotation runs the periodic process that retires running
// experiments: once an experiment has run past the configured rotation
// interval and its result is flagged significant, it is stopped.
// Experiments that never reach significance keep running.
package rotation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/playforge/experiments/internal/experiment"
)

// Target is the registry surface the scheduler needs. The scheduler
// calls into the registry only; it never touches experiment state
// directly.
type Target interface {
	RunningExperiments() []experiment.RunningInfo
	StopExperiment(id string) error
}

// Scheduler evaluates running experiments on a fixed tick
type Scheduler struct {
	target           Target
	rotationInterval time.Duration
	tickPeriod       time.Duration
	logger           zerolog.Logger
}

// NewScheduler creates a scheduler. rotationInterval is the minimum
// running time before a significant experiment is stopped; tickPeriod
// is how often the check fires.
func NewScheduler(t Target, rotationInterval, tickPeriod time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		target:           t,
		rotationInterval: rotationInterval,
		tickPeriod:       tickPeriod,
		logger:           logger.With().Str("component", "rotation_scheduler").Logger(),
	}
}

// Start launches the scheduler loop on its own goroutine. Cancelling
// the context stops future ticks; aggregate updates already applied are
// never rolled back.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Info().
		Dur("rotation_interval", s.rotationInterval).
		Dur("tick_period", s.tickPeriod).
		Msg("Rotation scheduler started")
}

func (s *Scheduler) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Msg("Rotation scheduler panicked - restarting")
			time.Sleep(5 * time.Second)
			go s.run(ctx)
		}
	}()

	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Rotation scheduler stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick evaluates every running experiment once and returns how many
// were stopped. A failure evaluating one experiment never prevents
// evaluation of the others.
func (s *Scheduler) Tick() int {
	stopped := 0
	for _, info := range s.target.RunningExperiments() {
		if s.evaluate(info) {
			stopped++
		}
	}
	return stopped
}

// evaluate checks one experiment, isolating panics and errors so a bad
// experiment cannot poison the rest of the tick.
func (s *Scheduler) evaluate(info experiment.RunningInfo) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("experiment_id", info.ID).
				Interface("panic", r).
				Msg("Panic while evaluating experiment rotation")
			stopped = false
		}
	}()

	if info.Elapsed < s.rotationInterval {
		return false
	}
	if !info.IsSignificant {
		// Not yet significant: keep running past the interval, no
		// forced stop.
		return false
	}

	if err := s.target.StopExperiment(info.ID); err != nil {
		s.logger.Error().
			Err(err).
			Str("experiment_id", info.ID).
			Msg("Failed to stop significant experiment")
		return false
	}

	s.logger.Info().
		Str("experiment_id", info.ID).
		Dur("elapsed", info.Elapsed).
		Msg("Experiment rotated out")
	return true
}

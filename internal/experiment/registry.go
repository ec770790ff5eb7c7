package experiment

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/playforge/experiments/internal/experiment/events"
	"github.com/playforge/experiments/internal/experiment/states"
)

// Options holds the tunable knobs of the engine
type Options struct {
	// TargetSampleBase is the base sample size; the requirement grows
	// with variant count: base * (1 + growth * variantCount)
	TargetSampleBase int

	// SampleGrowthPerVariant is the per-variant growth factor
	SampleGrowthPerVariant float64

	// MinSampleSize is the per-arm participant floor for significance
	MinSampleSize int64

	// SignificanceThreshold flags a result as significant when the
	// score is at or above it (lower score means larger effect)
	SignificanceThreshold float64

	// Epsilon is the bandit exploration probability
	Epsilon float64
}

// DefaultOptions returns the stock engine configuration
func DefaultOptions() Options {
	return Options{
		TargetSampleBase:       1000,
		SampleGrowthPerVariant: 0.5,
		MinSampleSize:          30,
		SignificanceThreshold:  0.05,
		Epsilon:                DefaultEpsilon,
	}
}

// instance pairs an experiment with its lifecycle machinery. The
// single mutex covers the whole assignment and metric-update path so
// compound read-modify-write sequences stay atomic.
type instance struct {
	mu      sync.RWMutex
	exp     *Experiment
	machine *states.StateMachine
	ctx     *states.ExperimentContext

	createdAt    time.Time
	lastActivity time.Time
}

// Registry is the experiment lifecycle manager and the composition
// root of the engine: it owns the experiment and variant records and
// orchestrates the assignment store, selector, and aggregator on each
// public call. Construct one per process and pass it by reference; no
// global instance exists.
type Registry struct {
	mu        sync.RWMutex
	active    map[string]*instance
	completed map[string]*instance

	store      *AssignmentStore
	selector   *Selector
	aggregator *Aggregator
	bus        *events.EventBus

	opts   Options
	logger zerolog.Logger
}

// NewRegistry creates a registry. The random source drives every
// selection policy; tests pass a seeded rand for determinism.
func NewRegistry(opts Options, rng *rand.Rand, logger zerolog.Logger) *Registry {
	if opts.TargetSampleBase <= 0 {
		opts.TargetSampleBase = DefaultOptions().TargetSampleBase
	}
	if opts.SampleGrowthPerVariant <= 0 {
		opts.SampleGrowthPerVariant = DefaultOptions().SampleGrowthPerVariant
	}
	if opts.MinSampleSize <= 0 {
		opts.MinSampleSize = DefaultOptions().MinSampleSize
	}
	if opts.SignificanceThreshold <= 0 {
		opts.SignificanceThreshold = DefaultOptions().SignificanceThreshold
	}

	logger = logger.With().Str("component", "registry").Logger()

	return &Registry{
		active:     make(map[string]*instance),
		completed:  make(map[string]*instance),
		store:      NewAssignmentStore(),
		selector:   NewSelector(rng, opts.Epsilon),
		aggregator: NewAggregator(opts.MinSampleSize, opts.SignificanceThreshold, logger),
		bus:        events.NewEventBus(),
		opts:       opts,
		logger:     logger,
	}
}

// Events returns the registry's event bus for subscribers. Handlers
// run synchronously, strictly after the mutation that produced the
// event.
func (r *Registry) Events() *events.EventBus {
	return r.bus
}

// CreateExperiment registers a new experiment in Draft. It requires at
// least one variant and rejects duplicate variant ids and negative
// weights with ErrInvalidArgument.
func (r *Registry) CreateExperiment(name, description string, kind Type, variants []VariantConfig, primaryMetric string, secondaryMetrics ...string) (string, error) {
	if len(variants) == 0 {
		return "", fmt.Errorf("%w: experiment needs at least one variant", ErrInvalidArgument)
	}

	seen := make(map[string]bool, len(variants))
	for _, vc := range variants {
		if vc.Weight < 0 {
			return "", fmt.Errorf("%w: variant %q has negative weight %d", ErrInvalidArgument, vc.ID, vc.Weight)
		}
		if vc.ID == "" {
			continue
		}
		if seen[vc.ID] {
			return "", fmt.Errorf("%w: duplicate variant id %q", ErrInvalidArgument, vc.ID)
		}
		seen[vc.ID] = true
	}

	experimentID := uuid.NewString()

	exp := &Experiment{
		ID:               experimentID,
		Name:             name,
		Description:      description,
		Kind:             kind,
		PrimaryMetric:    primaryMetric,
		SecondaryMetrics: make(map[string]bool, len(secondaryMetrics)),
		TargetSampleSize: targetSampleSize(r.opts, len(variants)),
	}
	for _, m := range secondaryMetrics {
		exp.SecondaryMetrics[m] = true
	}

	exp.Variants = make([]*Variant, 0, len(variants))
	for _, vc := range variants {
		id := vc.ID
		if id == "" {
			id = uuid.NewString()
		}
		params := make(map[string]interface{}, len(vc.Parameters))
		for k, v := range vc.Parameters {
			params[k] = v
		}
		exp.Variants = append(exp.Variants, &Variant{
			ID:           id,
			ExperimentID: experimentID,
			Name:         vc.Name,
			Weight:       vc.Weight,
			Parameters:   params,
			IsControl:    vc.IsControl,
			Result:       newResult(),
		})
	}

	ctx := states.NewExperimentContext(experimentID, len(exp.Variants), r.logger)
	machine := states.NewStateMachine(ctx)

	now := time.Now()
	inst := &instance{
		exp:          exp,
		machine:      machine,
		ctx:          ctx,
		createdAt:    now,
		lastActivity: now,
	}

	r.mu.Lock()
	r.active[experimentID] = inst
	r.mu.Unlock()

	r.logger.Info().
		Str("experiment_id", experimentID).
		Str("name", name).
		Str("kind", kind.String()).
		Int("variant_count", len(exp.Variants)).
		Int("target_sample_size", exp.TargetSampleSize).
		Msg("Experiment created")

	r.bus.Publish(events.NewExperimentCreatedEvent(
		experimentID, name, kind.String(), len(exp.Variants), primaryMetric))

	return experimentID, nil
}

// targetSampleSize computes base * (1 + growth * variantCount)
func targetSampleSize(opts Options, variantCount int) int {
	return int(float64(opts.TargetSampleBase) * (1 + opts.SampleGrowthPerVariant*float64(variantCount)))
}

// lookup finds an instance in either the active or completed set
func (r *Registry) lookup(id string) (*instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if inst, ok := r.active[id]; ok {
		return inst, true
	}
	if inst, ok := r.completed[id]; ok {
		return inst, true
	}
	return nil, false
}

// lookupActive finds an instance in the active set only
func (r *Registry) lookupActive(id string) (*instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.active[id]
	return inst, ok
}

// StartExperiment moves a Draft or Paused experiment to Running. The
// start time is recorded on first start and preserved across resumes.
func (r *Registry) StartExperiment(id string) error {
	inst, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	inst.mu.Lock()

	from := inst.machine.CurrentStatus()
	if from.IsTerminal() {
		inst.mu.Unlock()
		return fmt.Errorf("%w: cannot start %s experiment %s", ErrInvalidState, from, id)
	}

	if err := inst.machine.TransitionTo(states.StatusRunning, "start requested"); err != nil {
		inst.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	inst.exp.StartTime = inst.ctx.StartTime
	startTime := inst.exp.StartTime
	inst.lastActivity = time.Now()
	inst.mu.Unlock()

	// Events go out after the lock is released so subscribers can call
	// back into the registry.
	r.publishTransition(id, from, states.StatusRunning, "start requested")
	if from == states.StatusPaused {
		r.bus.Publish(events.NewExperimentResumedEvent(id))
	} else {
		r.bus.Publish(events.NewExperimentStartedEvent(id, startTime))
	}
	return nil
}

// publishTransition emits the state.transition event for a committed
// lifecycle change. Callers must not hold the instance lock.
func (r *Registry) publishTransition(id string, from, to states.Status, reason string) {
	r.bus.Publish(events.NewStateTransitionEvent(id, from.String(), to.String(), reason))
}

// PauseExperiment suspends a Running experiment; no assignments or
// metric updates are accepted while paused.
func (r *Registry) PauseExperiment(id string) error {
	inst, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	inst.mu.Lock()

	from := inst.machine.CurrentStatus()
	if err := inst.machine.TransitionTo(states.StatusPaused, "pause requested"); err != nil {
		inst.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	inst.lastActivity = time.Now()
	inst.mu.Unlock()

	r.publishTransition(id, from, states.StatusPaused, "pause requested")
	r.bus.Publish(events.NewExperimentPausedEvent(id))
	return nil
}

// ResumeExperiment returns a Paused experiment to Running
func (r *Registry) ResumeExperiment(id string) error {
	inst, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	inst.mu.Lock()

	from := inst.machine.CurrentStatus()
	if from != states.StatusPaused {
		inst.mu.Unlock()
		return fmt.Errorf("%w: cannot resume %s experiment %s", ErrInvalidState, from, id)
	}

	if err := inst.machine.TransitionTo(states.StatusRunning, "resume requested"); err != nil {
		inst.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	inst.lastActivity = time.Now()
	inst.mu.Unlock()

	r.publishTransition(id, from, states.StatusRunning, "resume requested")
	r.bus.Publish(events.NewExperimentResumedEvent(id))
	return nil
}

// StopExperiment moves a Running or Paused experiment to Completed,
// computes the final results, freezes the aggregate, and moves the
// experiment from the active set to the completed set.
func (r *Registry) StopExperiment(id string) error {
	inst, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	inst.mu.Lock()

	from := inst.machine.CurrentStatus()
	if from != states.StatusRunning && from != states.StatusPaused {
		inst.mu.Unlock()
		return fmt.Errorf("%w: cannot stop %s experiment %s", ErrInvalidState, from, id)
	}

	// Final aggregate is computed before the transition so the
	// Completed state observes the decided winner.
	winner := r.aggregator.CalculateFinalResults(inst.exp)
	inst.ctx.Winner = winner

	if err := inst.machine.TransitionTo(states.StatusCompleted, "stop requested"); err != nil {
		inst.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	inst.exp.EndTime = inst.ctx.EndTime
	inst.lastActivity = time.Now()
	duration := inst.ctx.GetElapsedTime()

	inst.mu.Unlock()

	// Active lookups stay O(running experiments), not O(all-time)
	r.mu.Lock()
	delete(r.active, id)
	r.completed[id] = inst
	r.mu.Unlock()

	r.publishTransition(id, from, states.StatusCompleted, "stop requested")
	r.bus.Publish(events.NewExperimentStoppedEvent(id, winner, duration))
	return nil
}

// CancelExperiment abandons an experiment from any non-terminal state
// without computing final results.
func (r *Registry) CancelExperiment(id, reason string) error {
	inst, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	inst.mu.Lock()

	from := inst.machine.CurrentStatus()
	if err := inst.machine.TransitionTo(states.StatusCancelled, reason); err != nil {
		inst.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	inst.exp.EndTime = inst.ctx.EndTime
	inst.lastActivity = time.Now()
	inst.mu.Unlock()

	r.mu.Lock()
	delete(r.active, id)
	r.completed[id] = inst
	r.mu.Unlock()

	r.publishTransition(id, from, states.StatusCancelled, reason)
	r.bus.Publish(events.NewExperimentCancelledEvent(id, reason))
	return nil
}

// GetVariant resolves a subject to a variant. Returns the existing
// sticky assignment when one exists; otherwise selects a variant,
// persists the assignment, and counts the exposure. Returns false when
// the experiment is unknown or not Running; both are expected hot-path
// conditions, not errors.
func (r *Registry) GetVariant(subjectID, experimentID string) (Selection, bool) {
	inst, ok := r.lookupActive(experimentID)
	if !ok {
		return Selection{}, false
	}

	inst.mu.Lock()

	if !inst.machine.CurrentStatus().CanAcceptTraffic() {
		inst.mu.Unlock()
		return Selection{}, false
	}

	now := time.Now()
	inst.lastActivity = now

	if a, exists := r.store.Get(subjectID, experimentID); exists {
		a.LastSeen = now
		variant := inst.exp.Variant(a.VariantID)
		inst.mu.Unlock()
		if variant == nil {
			return Selection{}, false
		}
		return Selection{VariantID: variant.ID, Parameters: variant.Parameters}, true
	}

	variant := r.selector.Select(inst.exp.Kind, inst.exp.Variants)
	if variant == nil {
		inst.mu.Unlock()
		return Selection{}, false
	}

	r.store.Put(&Assignment{
		SubjectID:    subjectID,
		ExperimentID: experimentID,
		VariantID:    variant.ID,
		AssignedAt:   now,
		Metrics:      make(map[string]float64),
		LastSeen:     now,
	})

	r.aggregator.ApplyParticipant(variant)
	recomputed := r.aggregator.RecomputeSignificance(inst.exp)
	score := inst.exp.CurrentSignificance
	significant := inst.exp.IsSignificant

	inst.mu.Unlock()

	// Published outside the lock so subscribers can call back into the
	// registry without deadlocking.
	r.bus.Publish(events.NewAssignmentCreatedEvent(experimentID, subjectID, variant.ID))
	if recomputed {
		r.bus.Publish(events.NewSignificanceUpdatedEvent(experimentID, score, significant))
	}

	return Selection{VariantID: variant.ID, Parameters: variant.Parameters}, true
}

// RecordConversion records a primary-metric conversion with the
// default value of 1.
func (r *Registry) RecordConversion(subjectID, experimentID, metricName string) {
	r.RecordConversionValue(subjectID, experimentID, metricName, 1)
}

// RecordConversionValue records a conversion with an explicit value.
// A conversion without a prior assignment is dropped rather than
// fabricating an exposure; the drop is not an error.
func (r *Registry) RecordConversionValue(subjectID, experimentID, metricName string, value float64) {
	r.recordObservation(subjectID, experimentID, metricName, value, true)
}

// RecordMetric records a secondary-metric observation; it does not
// mark the assignment as converted.
func (r *Registry) RecordMetric(subjectID, experimentID, metricName string, value float64) {
	r.recordObservation(subjectID, experimentID, metricName, value, false)
}

func (r *Registry) recordObservation(subjectID, experimentID, metricName string, value float64, conversion bool) {
	inst, ok := r.lookupActive(experimentID)
	if !ok {
		return
	}

	inst.mu.Lock()

	if !inst.machine.CurrentStatus().CanAcceptTraffic() {
		inst.mu.Unlock()
		return
	}

	a, exists := r.store.Get(subjectID, experimentID)
	if !exists {
		inst.mu.Unlock()
		r.logger.Debug().
			Str("experiment_id", experimentID).
			Str("subject_id", subjectID).
			Str("metric", metricName).
			Bool("conversion", conversion).
			Msg("Observation without assignment dropped")
		return
	}

	variant := inst.exp.Variant(a.VariantID)
	if variant == nil {
		inst.mu.Unlock()
		return
	}

	// Conversions are subject-unique: a repeat conversion from an
	// already-converted assignment is ignored so a variant's
	// conversions never exceed its participants.
	if conversion && a.HasConverted {
		inst.mu.Unlock()
		r.logger.Debug().
			Str("experiment_id", experimentID).
			Str("subject_id", subjectID).
			Str("metric", metricName).
			Msg("Repeat conversion ignored")
		return
	}

	now := time.Now()
	a.Metrics[metricName] = value
	a.LastSeen = now
	inst.lastActivity = now

	if conversion {
		a.HasConverted = true
		r.aggregator.ApplyConversion(variant, metricName, value)
	} else {
		inst.exp.SecondaryMetrics[metricName] = true
		r.aggregator.ApplySecondaryMetric(variant, metricName, value)
	}

	recomputed := r.aggregator.RecomputeSignificance(inst.exp)
	score := inst.exp.CurrentSignificance
	significant := inst.exp.IsSignificant
	variantID := variant.ID

	inst.mu.Unlock()

	if conversion {
		r.bus.Publish(events.NewConversionRecordedEvent(experimentID, subjectID, variantID, metricName, value))
	} else {
		r.bus.Publish(events.NewMetricRecordedEvent(experimentID, subjectID, variantID, metricName, value))
	}
	if recomputed {
		r.bus.Publish(events.NewSignificanceUpdatedEvent(experimentID, score, significant))
	}
}

// Status returns the lifecycle status of an experiment
func (r *Registry) Status(id string) (states.Status, error) {
	inst, ok := r.lookup(id)
	if !ok {
		return states.StatusDraft, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return inst.machine.CurrentStatus(), nil
}

// RunningInfo is the rotation scheduler's view of one running experiment
type RunningInfo struct {
	ID            string
	Elapsed       time.Duration
	IsSignificant bool
}

// RunningExperiments snapshots every experiment currently accepting
// traffic, for the rotation scheduler.
func (r *Registry) RunningExperiments() []RunningInfo {
	r.mu.RLock()
	insts := make([]*instance, 0, len(r.active))
	for _, inst := range r.active {
		insts = append(insts, inst)
	}
	r.mu.RUnlock()

	infos := make([]RunningInfo, 0, len(insts))
	for _, inst := range insts {
		inst.mu.RLock()
		if inst.machine.CurrentStatus() == states.StatusRunning {
			infos = append(infos, RunningInfo{
				ID:            inst.exp.ID,
				Elapsed:       inst.ctx.GetElapsedTime(),
				IsSignificant: inst.exp.IsSignificant,
			})
		}
		inst.mu.RUnlock()
	}
	return infos
}

// ActiveCount returns the number of experiments in the active set
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// CompletedCount returns the number of experiments in the completed set
func (r *Registry) CompletedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.completed)
}

package states

import (
	"fmt"
	"sync"
	"time"
)

// State represents an experiment lifecycle state with callbacks
type State interface {
	// Status returns the Status this state represents
	Status() Status

	// Enter is called when transitioning into this state
	Enter(ctx *ExperimentContext) error

	// Exit is called when transitioning out of this state
	Exit(ctx *ExperimentContext) error

	// Validate checks if the state is valid given the context
	Validate(ctx *ExperimentContext) error
}

// Transition represents a state transition in the history
type Transition struct {
	From      Status
	To        Status
	Timestamp time.Time
	Reason    string
}

// StateMachine manages experiment lifecycle transitions and history.
// It performs no event publication itself; the owning registry
// publishes transition events after releasing its locks, so
// subscribers can safely call back into the registry.
type StateMachine struct {
	mu             sync.RWMutex
	currentStatus  Status
	states         map[Status]State
	context        *ExperimentContext
	history        []Transition
	maxHistorySize int
}

// NewStateMachine creates a new state machine starting in Draft
func NewStateMachine(ctx *ExperimentContext) *StateMachine {
	sm := &StateMachine{
		currentStatus:  StatusDraft,
		states:         make(map[Status]State),
		context:        ctx,
		history:        make([]Transition, 0, 16),
		maxHistorySize: 100,
	}

	sm.registerDefaultStates()

	return sm
}

// registerDefaultStates registers the built-in state implementations
func (sm *StateMachine) registerDefaultStates() {
	sm.RegisterState(NewDraftState())
	sm.RegisterState(NewRunningState())
	sm.RegisterState(NewPausedState())
	sm.RegisterState(NewCompletedState())
	sm.RegisterState(NewCancelledState())
}

// RegisterState registers a state implementation
func (sm *StateMachine) RegisterState(state State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.states[state.Status()] = state
}

// CurrentStatus returns the current experiment status
func (sm *StateMachine) CurrentStatus() Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.currentStatus
}

// TransitionTo attempts to transition to the specified status
func (sm *StateMachine) TransitionTo(target Status, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Check if transition is allowed
	if !sm.currentStatus.CanTransitionTo(target) {
		return fmt.Errorf("invalid transition from %s to %s", sm.currentStatus, target)
	}

	// Get state implementations
	currentState, hasCurrentState := sm.states[sm.currentStatus]
	targetState, hasTargetState := sm.states[target]

	if !hasTargetState {
		return fmt.Errorf("no state implementation for status %s", target)
	}

	// Validate target state
	if err := targetState.Validate(sm.context); err != nil {
		return fmt.Errorf("target state validation failed: %w", err)
	}

	// Exit current state
	if hasCurrentState {
		if err := currentState.Exit(sm.context); err != nil {
			sm.context.Logger.Error().
				Err(err).
				Str("from_status", sm.currentStatus.String()).
				Str("to_status", target.String()).
				Msg("Error exiting state")
			// Continue with transition despite exit error
		}
	}

	// Record transition
	transition := Transition{
		From:      sm.currentStatus,
		To:        target,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	sm.addToHistory(transition)

	// Update current status
	previousStatus := sm.currentStatus
	sm.currentStatus = target

	// Enter new state
	if err := targetState.Enter(sm.context); err != nil {
		// Rollback on enter failure
		sm.currentStatus = previousStatus
		return fmt.Errorf("failed to enter state %s: %w", target, err)
	}

	sm.context.Logger.Info().
		Str("from_status", previousStatus.String()).
		Str("to_status", target.String()).
		Str("reason", reason).
		Msg("State transition completed")

	return nil
}

// addToHistory adds a transition to the history, maintaining max size
func (sm *StateMachine) addToHistory(transition Transition) {
	sm.history = append(sm.history, transition)

	// Trim history if it exceeds max size
	if len(sm.history) > sm.maxHistorySize {
		// Keep the most recent entries
		sm.history = sm.history[len(sm.history)-sm.maxHistorySize:]
	}
}

// GetHistory returns a copy of the transition history
func (sm *StateMachine) GetHistory() []Transition {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	history := make([]Transition, len(sm.history))
	copy(history, sm.history)
	return history
}

// GetContext returns the experiment context
func (sm *StateMachine) GetContext() *ExperimentContext {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.context
}

// CanTransitionTo checks if a transition to the target status is allowed
func (sm *StateMachine) CanTransitionTo(target Status) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.currentStatus.CanTransitionTo(target)
}

package states

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusDraft, "Draft"},
		{StatusRunning, "Running"},
		{StatusPaused, "Paused"},
		{StatusCompleted, "Completed"},
		{StatusCancelled, "Cancelled"},
		{Status(999), "Unknown(999)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestStatus_Properties(t *testing.T) {
	t.Run("IsTerminal", func(t *testing.T) {
		assert.True(t, StatusCompleted.IsTerminal())
		assert.True(t, StatusCancelled.IsTerminal())
		assert.False(t, StatusRunning.IsTerminal())
		assert.False(t, StatusDraft.IsTerminal())
	})

	t.Run("CanAcceptTraffic", func(t *testing.T) {
		assert.True(t, StatusRunning.CanAcceptTraffic())
		assert.False(t, StatusDraft.CanAcceptTraffic())
		assert.False(t, StatusPaused.CanAcceptTraffic())
		assert.False(t, StatusCompleted.CanAcceptTraffic())
	})
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from    Status
		allowed []Status
	}{
		{StatusDraft, []Status{StatusRunning, StatusCancelled}},
		{StatusRunning, []Status{StatusPaused, StatusCompleted, StatusCancelled}},
		{StatusPaused, []Status{StatusRunning, StatusCompleted, StatusCancelled}},
		{StatusCompleted, []Status{}},
		{StatusCancelled, []Status{}},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			allowed := tt.from.AllowedTransitions()
			assert.Equal(t, tt.allowed, allowed)

			for _, target := range allowed {
				assert.True(t, tt.from.CanTransitionTo(target))
			}
		})
	}

	// Terminal statuses reject everything
	for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
		for _, target := range []Status{StatusDraft, StatusRunning, StatusPaused, StatusCompleted, StatusCancelled} {
			assert.False(t, terminal.CanTransitionTo(target),
				"%s should not transition to %s", terminal, target)
		}
	}
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusRunning, ParseStatus("Running"))
	assert.Equal(t, StatusCompleted, ParseStatus("Completed"))
	assert.Equal(t, StatusDraft, ParseStatus("garbage"))
}

func TestStateMachine_BasicLifecycle(t *testing.T) {
	logger := zerolog.Nop()
	ctx := NewExperimentContext("exp-1", 2, logger)
	sm := NewStateMachine(ctx)

	assert.Equal(t, StatusDraft, sm.CurrentStatus())

	assert.NoError(t, sm.TransitionTo(StatusRunning, "start requested"))
	assert.Equal(t, StatusRunning, sm.CurrentStatus())
	assert.False(t, ctx.StartTime.IsZero(), "Running.Enter should record start time")

	assert.NoError(t, sm.TransitionTo(StatusPaused, "pause requested"))
	assert.NoError(t, sm.TransitionTo(StatusRunning, "resume requested"))
	assert.NoError(t, sm.TransitionTo(StatusCompleted, "stop requested"))
	assert.Equal(t, StatusCompleted, sm.CurrentStatus())
	assert.False(t, ctx.EndTime.IsZero(), "Completed.Enter should record end time")

	history := sm.GetHistory()
	assert.Len(t, history, 4)
	assert.Equal(t, StatusDraft, history[0].From)
	assert.Equal(t, StatusRunning, history[0].To)
	assert.Equal(t, "stop requested", history[3].Reason)
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	logger := zerolog.Nop()
	ctx := NewExperimentContext("exp-1", 2, logger)
	sm := NewStateMachine(ctx)

	// Draft cannot pause or complete
	assert.Error(t, sm.TransitionTo(StatusPaused, "invalid"))
	assert.Error(t, sm.TransitionTo(StatusCompleted, "invalid"))

	// Completed is terminal
	assert.NoError(t, sm.TransitionTo(StatusRunning, "start"))
	assert.NoError(t, sm.TransitionTo(StatusCompleted, "stop"))
	assert.Error(t, sm.TransitionTo(StatusRunning, "restart after complete"))
	assert.Error(t, sm.TransitionTo(StatusCancelled, "cancel after complete"))
}

func TestStateMachine_ValidationBlocksTransition(t *testing.T) {
	logger := zerolog.Nop()

	// Zero variants: Running.Validate must reject the transition
	ctx := NewExperimentContext("exp-1", 0, logger)
	sm := NewStateMachine(ctx)

	err := sm.TransitionTo(StatusRunning, "start")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Equal(t, StatusDraft, sm.CurrentStatus())
}

func TestStateMachine_RecordsHistory(t *testing.T) {
	logger := zerolog.Nop()
	ctx := NewExperimentContext("exp-1", 2, logger)
	sm := NewStateMachine(ctx)

	assert.NoError(t, sm.TransitionTo(StatusRunning, "start"))
	assert.NoError(t, sm.TransitionTo(StatusCompleted, "stop"))

	history := sm.GetHistory()
	assert.Len(t, history, 2)
	assert.Equal(t, StatusDraft, history[0].From)
	assert.Equal(t, StatusRunning, history[0].To)
	assert.Equal(t, StatusRunning, history[1].From)
	assert.Equal(t, StatusCompleted, history[1].To)
	assert.Equal(t, "stop", history[1].Reason)
}

func TestPausedState_ValidationRequiresStart(t *testing.T) {
	logger := zerolog.Nop()
	ctx := NewExperimentContext("exp-1", 2, logger)
	state := NewPausedState()

	err := state.Validate(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "hasn't started")

	ctx.StartTime = time.Now()
	assert.NoError(t, state.Validate(ctx))
}

func TestPausedState_AccumulatesPauseDuration(t *testing.T) {
	logger := zerolog.Nop()
	ctx := NewExperimentContext("exp-1", 2, logger)
	sm := NewStateMachine(ctx)

	assert.NoError(t, sm.TransitionTo(StatusRunning, "start"))
	assert.NoError(t, sm.TransitionTo(StatusPaused, "pause"))
	assert.NoError(t, sm.TransitionTo(StatusRunning, "resume"))

	assert.GreaterOrEqual(t, ctx.TotalPauseDuration.Nanoseconds(), int64(0))
	assert.False(t, ctx.PauseTime.IsZero())
}

func TestRunningState_ResumeKeepsStartTime(t *testing.T) {
	logger := zerolog.Nop()
	ctx := NewExperimentContext("exp-1", 2, logger)
	sm := NewStateMachine(ctx)

	assert.NoError(t, sm.TransitionTo(StatusRunning, "start"))
	// Backdate the start so pre-pause running time is unmistakable
	ctx.StartTime = ctx.StartTime.Add(-time.Hour)
	backdated := ctx.StartTime

	assert.NoError(t, sm.TransitionTo(StatusPaused, "pause"))
	assert.NoError(t, sm.TransitionTo(StatusRunning, "resume"))

	assert.Equal(t, backdated, ctx.StartTime, "resume keeps the original start time")
	assert.GreaterOrEqual(t, ctx.GetElapsedTime(), time.Duration(0), "elapsed never goes negative")
	assert.Greater(t, ctx.GetElapsedTime(), 59*time.Minute, "pre-pause running time is preserved")
}

package experiment

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/experiments/internal/experiment/events"
	"github.com/playforge/experiments/internal/experiment/states"
	"github.com/playforge/experiments/internal/testutil"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(DefaultOptions(), testutil.NewTestRNG(42), testutil.NopLogger())
}

func abVariants() []VariantConfig {
	return []VariantConfig{
		{ID: "control", Name: "Control", Weight: 1, IsControl: true,
			Parameters: map[string]interface{}{"button_color": "grey"}},
		{ID: "red", Name: "Red Button", Weight: 1,
			Parameters: map[string]interface{}{"button_color": "red"}},
	}
}

func createRunning(t *testing.T, r *Registry) string {
	t.Helper()
	id, err := r.CreateExperiment("button color", "cta test", TypeSimpleAB, abVariants(), "purchase")
	require.NoError(t, err)
	require.NoError(t, r.StartExperiment(id))
	return id
}

func TestCreateExperimentValidation(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.CreateExperiment("empty", "", TypeSimpleAB, nil, "purchase")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = r.CreateExperiment("dup", "", TypeSimpleAB, []VariantConfig{
		{ID: "a", Weight: 1}, {ID: "a", Weight: 1},
	}, "purchase")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = r.CreateExperiment("neg", "", TypeSimpleAB, []VariantConfig{
		{ID: "a", Weight: -1},
	}, "purchase")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateExperimentDefaults(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.CreateExperiment("button color", "cta test", TypeSimpleAB, abVariants(), "purchase", "session_length")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	status, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, states.StatusDraft, status)

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, "button color", report.Name)
	// base 1000, growth 0.5 per variant: 1000 * (1 + 0.5*2)
	assert.Equal(t, 2000, report.TargetSampleSize)
	assert.Len(t, report.Variants, 2)
}

func TestTargetSampleSizeGrowsWithVariants(t *testing.T) {
	r := newTestRegistry(t)

	variants := append(abVariants(), VariantConfig{ID: "blue", Name: "Blue Button", Weight: 1})
	id, err := r.CreateExperiment("three arms", "", TypeMultivariate, variants, "purchase")
	require.NoError(t, err)

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, 2500, report.TargetSampleSize)
}

func TestLifecycleTransitions(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.CreateExperiment("lifecycle", "", TypeSimpleAB, abVariants(), "purchase")
	require.NoError(t, err)

	// Draft cannot pause or resume
	assert.ErrorIs(t, r.PauseExperiment(id), ErrInvalidState)
	assert.ErrorIs(t, r.ResumeExperiment(id), ErrInvalidState)
	assert.ErrorIs(t, r.StopExperiment(id), ErrInvalidState)

	require.NoError(t, r.StartExperiment(id))
	status, _ := r.Status(id)
	assert.Equal(t, states.StatusRunning, status)

	require.NoError(t, r.PauseExperiment(id))
	status, _ = r.Status(id)
	assert.Equal(t, states.StatusPaused, status)

	require.NoError(t, r.ResumeExperiment(id))
	require.NoError(t, r.StopExperiment(id))
	status, _ = r.Status(id)
	assert.Equal(t, states.StatusCompleted, status)

	// Terminal states reject everything
	assert.ErrorIs(t, r.StartExperiment(id), ErrInvalidState)
	assert.ErrorIs(t, r.StopExperiment(id), ErrInvalidState)
	assert.ErrorIs(t, r.CancelExperiment(id, "too late"), ErrInvalidState)

	assert.Equal(t, 0, r.ActiveCount())
	assert.Equal(t, 1, r.CompletedCount())
}

func TestStartResumesPausedExperiment(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	require.NoError(t, r.PauseExperiment(id))
	require.NoError(t, r.StartExperiment(id))

	status, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, states.StatusRunning, status)
}

func TestElapsedTimeSurvivesPauseResume(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.PauseExperiment(id))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.ResumeExperiment(id))

	infos := r.RunningExperiments()
	require.Len(t, infos, 1)
	assert.GreaterOrEqual(t, infos[0].Elapsed, time.Duration(0), "elapsed never goes negative after a resume")
	assert.GreaterOrEqual(t, infos[0].Elapsed, 20*time.Millisecond, "pre-pause running time is preserved")
}

func TestCancelExperiment(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	require.NoError(t, r.CancelExperiment(id, "bad setup"))

	status, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, states.StatusCancelled, status)

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Empty(t, report.Winner, "cancel never computes final results")
}

func TestUnknownExperimentErrors(t *testing.T) {
	r := newTestRegistry(t)

	assert.ErrorIs(t, r.StartExperiment("missing"), ErrNotFound)
	assert.ErrorIs(t, r.StopExperiment("missing"), ErrNotFound)
	_, err := r.Status("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetReport("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, ok := r.GetVariant("alice", "missing")
	assert.False(t, ok)
}

func TestGetVariantStickiness(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	first, ok := r.GetVariant("alice", id)
	require.True(t, ok)
	assert.NotEmpty(t, first.VariantID)
	assert.Contains(t, first.Parameters, "button_color")

	for i := 0; i < 50; i++ {
		again, ok := r.GetVariant("alice", id)
		require.True(t, ok)
		assert.Equal(t, first.VariantID, again.VariantID)
	}

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Participants, "repeat lookups never recount the subject")
}

func TestGetVariantRequiresRunning(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.CreateExperiment("draft only", "", TypeSimpleAB, abVariants(), "purchase")
	require.NoError(t, err)

	_, ok := r.GetVariant("alice", id)
	assert.False(t, ok, "draft experiments assign nobody")

	require.NoError(t, r.StartExperiment(id))
	_, ok = r.GetVariant("alice", id)
	assert.True(t, ok)

	require.NoError(t, r.PauseExperiment(id))
	_, ok = r.GetVariant("bob", id)
	assert.False(t, ok, "paused experiments assign nobody")

	// Existing assignments survive the pause and are visible after resume
	require.NoError(t, r.ResumeExperiment(id))
	sel, ok := r.GetVariant("alice", id)
	assert.True(t, ok)
	assert.NotEmpty(t, sel.VariantID)
}

func TestParticipantConservation(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	const subjects = 1000
	for _, subject := range testutil.SubjectIDs(subjects) {
		_, ok := r.GetVariant(subject, id)
		require.True(t, ok)
	}

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, int64(subjects), report.Participants)

	var sum int64
	for _, v := range report.Variants {
		sum += v.Participants
		// Equal weights: each arm lands near an even split
		assert.InDelta(t, subjects/2, v.Participants, subjects*0.05)
	}
	assert.Equal(t, int64(subjects), sum)
}

func TestRecordConversion(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	sel, ok := r.GetVariant("alice", id)
	require.True(t, ok)

	r.RecordConversionValue("alice", id, "purchase", 3)
	r.RecordConversion("alice", id, "purchase")

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Conversions, "conversions are subject-unique; repeats are ignored")

	for _, v := range report.Variants {
		if v.VariantID != sel.VariantID {
			continue
		}
		assert.Equal(t, int64(1), v.Conversions)
		assert.InDelta(t, 3.0, v.MetricMeans["purchase"], 1e-12)
		assert.LessOrEqual(t, v.ConversionRate, 1.0)
	}
}

func TestConversionRateNeverExceedsOne(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	_, ok := r.GetVariant("alice", id)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		r.RecordConversion("alice", id, "purchase")
	}

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Participants)
	assert.Equal(t, int64(1), report.Conversions)
	assert.LessOrEqual(t, report.ConversionRate, 1.0)
	for _, v := range report.Variants {
		assert.LessOrEqual(t, v.ConversionRate, 1.0)
		assert.LessOrEqual(t, v.Conversions, v.Participants)
	}
}

func TestRecordConversionWithoutAssignmentDropped(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	r.RecordConversion("stranger", id, "purchase")

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Participants)
	assert.Equal(t, int64(0), report.Conversions)
}

func TestRecordSecondaryMetric(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	sel, ok := r.GetVariant("alice", id)
	require.True(t, ok)

	r.RecordMetric("alice", id, "session_length", 120)
	r.RecordMetric("alice", id, "session_length", 60)

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Conversions, "secondary metrics never convert")

	for _, v := range report.Variants {
		if v.VariantID == sel.VariantID {
			assert.InDelta(t, 90.0, v.MetricMeans["session_length"], 1e-12)
		}
	}
}

func TestStopComputesWinner(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	// Convert every red subject and no control subject
	for i := 0; i < 200; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		sel, ok := r.GetVariant(subject, id)
		require.True(t, ok)
		if sel.VariantID == "red" {
			r.RecordConversion(subject, id, "purchase")
		}
	}

	require.NoError(t, r.StopExperiment(id))

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, "red", report.Winner)
	assert.Equal(t, states.StatusCompleted.String(), report.Status)

	// Completed experiments accept no more traffic
	_, ok := r.GetVariant("latecomer", id)
	assert.False(t, ok)
	r.RecordConversion("subject-0", id, "purchase")
	after, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, report.Conversions, after.Conversions)
}

func TestStopWithNoDataReportsNoWinner(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	require.NoError(t, r.StopExperiment(id))

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Empty(t, report.Winner)
	assert.False(t, report.IsSignificant)
}

func TestRegistryEvents(t *testing.T) {
	r := newTestRegistry(t)

	var mu sync.Mutex
	counts := make(map[string]int)
	for _, et := range []string{
		events.TypeExperimentCreated,
		events.TypeExperimentStarted,
		events.TypeAssignmentCreated,
		events.TypeConversionRecorded,
		events.TypeExperimentStopped,
	} {
		r.Events().SubscribeFunc(et, func(e events.Event) {
			mu.Lock()
			counts[e.Type()]++
			mu.Unlock()
		})
	}

	id := createRunning(t, r)
	_, ok := r.GetVariant("alice", id)
	require.True(t, ok)
	r.RecordConversion("alice", id, "purchase")
	require.NoError(t, r.StopExperiment(id))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts[events.TypeExperimentCreated])
	assert.Equal(t, 1, counts[events.TypeExperimentStarted])
	assert.Equal(t, 1, counts[events.TypeAssignmentCreated])
	assert.Equal(t, 1, counts[events.TypeConversionRecorded])
	assert.Equal(t, 1, counts[events.TypeExperimentStopped])
}

func TestStateTransitionEventsFromRegistry(t *testing.T) {
	r := newTestRegistry(t)

	var transitions []*events.StateTransitionEvent
	r.Events().SubscribeFunc(events.TypeStateTransition, func(e events.Event) {
		if te, ok := e.(*events.StateTransitionEvent); ok {
			transitions = append(transitions, te)
		}
	})

	id := createRunning(t, r)
	require.NoError(t, r.PauseExperiment(id))
	require.NoError(t, r.ResumeExperiment(id))
	require.NoError(t, r.StopExperiment(id))

	require.Len(t, transitions, 4)
	assert.Equal(t, "Draft", transitions[0].FromState)
	assert.Equal(t, "Running", transitions[0].ToState)
	assert.Equal(t, "Paused", transitions[2].FromState)
	assert.Equal(t, "Running", transitions[2].ToState)
	assert.Equal(t, "Completed", transitions[3].ToState)
}

func TestTransitionSubscriberCanReadBack(t *testing.T) {
	// Transition events are published after the instance lock is
	// released, so a subscriber may call straight back into the
	// registry without deadlocking.
	r := newTestRegistry(t)

	var statuses []string
	r.Events().SubscribeFunc(events.TypeStateTransition, func(e events.Event) {
		report, err := r.GetReport(e.ExperimentID())
		if err == nil {
			statuses = append(statuses, report.Status)
		}
	})

	id := createRunning(t, r)
	require.NoError(t, r.StopExperiment(id))

	require.Len(t, statuses, 2)
	assert.Equal(t, states.StatusRunning.String(), statuses[0],
		"subscriber observes state strictly after the mutation")
	assert.Equal(t, states.StatusCompleted.String(), statuses[1])
}

func TestRunningExperimentsSnapshot(t *testing.T) {
	r := newTestRegistry(t)

	running := createRunning(t, r)
	_, err := r.CreateExperiment("still draft", "", TypeSimpleAB, abVariants(), "purchase")
	require.NoError(t, err)
	paused := createRunning(t, r)
	require.NoError(t, r.PauseExperiment(paused))

	infos := r.RunningExperiments()
	require.Len(t, infos, 1)
	assert.Equal(t, running, infos[0].ID)
	assert.False(t, infos[0].IsSignificant)
	assert.GreaterOrEqual(t, infos[0].Elapsed.Nanoseconds(), int64(0))
}

func TestListExperiments(t *testing.T) {
	r := newTestRegistry(t)

	first := createRunning(t, r)
	second, err := r.CreateExperiment("second", "", TypeBandit, abVariants(), "purchase")
	require.NoError(t, err)
	require.NoError(t, r.StartExperiment(second))
	require.NoError(t, r.StopExperiment(second))

	reports := r.ListExperiments()
	require.Len(t, reports, 2, "completed experiments stay listed")

	byID := make(map[string]*Report, len(reports))
	for _, report := range reports {
		byID[report.ExperimentID] = report
	}
	assert.Equal(t, states.StatusRunning.String(), byID[first].Status)
	assert.Equal(t, states.StatusCompleted.String(), byID[second].Status)
}

func TestConcurrentAssignmentIsExactlyOnce(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	const goroutines = 32
	variants := make([]string, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			sel, ok := r.GetVariant("alice", id)
			if ok {
				variants[n] = sel.VariantID
			}
		}(i)
	}
	wg.Wait()

	for _, v := range variants {
		assert.Equal(t, variants[0], v, "concurrent lookups agree on one variant")
	}

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Participants)
}

func TestConcurrentTrafficConservation(t *testing.T) {
	r := newTestRegistry(t)
	id := createRunning(t, r)

	const subjects = 200
	var wg sync.WaitGroup
	wg.Add(subjects)
	for i := 0; i < subjects; i++ {
		go func(n int) {
			defer wg.Done()
			subject := fmt.Sprintf("subject-%d", n)
			if _, ok := r.GetVariant(subject, id); ok && n%2 == 0 {
				r.RecordConversion(subject, id, "purchase")
			}
		}(i)
	}
	wg.Wait()

	report, err := r.GetReport(id)
	require.NoError(t, err)
	assert.Equal(t, int64(subjects), report.Participants)
	assert.Equal(t, int64(subjects/2), report.Conversions)

	var sum int64
	for _, v := range report.Variants {
		sum += v.Participants
	}
	assert.Equal(t, int64(subjects), sum)
}

func TestErrorsAreDistinguishable(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.CreateExperiment("errs", "", TypeSimpleAB, abVariants(), "purchase")
	require.NoError(t, err)

	pauseErr := r.PauseExperiment(id)
	require.Error(t, pauseErr)
	assert.True(t, errors.Is(pauseErr, ErrInvalidState))
	assert.False(t, errors.Is(pauseErr, ErrNotFound))
}

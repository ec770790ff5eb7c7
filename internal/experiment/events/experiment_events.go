package events

import (
	"time"
)

// Event type constants
const (
	TypeExperimentCreated   = "experiment.created"
	TypeExperimentStarted   = "experiment.started"
	TypeExperimentPaused    = "experiment.paused"
	TypeExperimentResumed   = "experiment.resumed"
	TypeExperimentStopped   = "experiment.stopped"
	TypeExperimentCancelled = "experiment.cancelled"
	TypeAssignmentCreated   = "assignment.created"
	TypeConversionRecorded  = "conversion.recorded"
	TypeMetricRecorded      = "metric.recorded"
	TypeSignificanceUpdated = "significance.updated"
	TypeStateTransition     = "state.transition"
)

// ExperimentCreatedEvent is published when a new experiment is registered
type ExperimentCreatedEvent struct {
	BaseEvent
	Name           string
	ExperimentKind string
	VariantCount   int
	PrimaryMetric  string
}

// NewExperimentCreatedEvent creates a new ExperimentCreatedEvent
func NewExperimentCreatedEvent(experimentID, name, kind string, variantCount int, primaryMetric string) *ExperimentCreatedEvent {
	return &ExperimentCreatedEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeExperimentCreated,
			Time:       time.Now(),
			Experiment: experimentID,
		},
		Name:           name,
		ExperimentKind: kind,
		VariantCount:   variantCount,
		PrimaryMetric:  primaryMetric,
	}
}

// ExperimentStartedEvent is published when an experiment begins accepting traffic
type ExperimentStartedEvent struct {
	BaseEvent
	StartTime time.Time
}

// NewExperimentStartedEvent creates a new ExperimentStartedEvent
func NewExperimentStartedEvent(experimentID string, startTime time.Time) *ExperimentStartedEvent {
	return &ExperimentStartedEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeExperimentStarted,
			Time:       time.Now(),
			Experiment: experimentID,
		},
		StartTime: startTime,
	}
}

// ExperimentPausedEvent is published when an experiment is paused
type ExperimentPausedEvent struct {
	BaseEvent
}

// NewExperimentPausedEvent creates a new ExperimentPausedEvent
func NewExperimentPausedEvent(experimentID string) *ExperimentPausedEvent {
	return &ExperimentPausedEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeExperimentPaused,
			Time:       time.Now(),
			Experiment: experimentID,
		},
	}
}

// ExperimentResumedEvent is published when a paused experiment resumes
type ExperimentResumedEvent struct {
	BaseEvent
}

// NewExperimentResumedEvent creates a new ExperimentResumedEvent
func NewExperimentResumedEvent(experimentID string) *ExperimentResumedEvent {
	return &ExperimentResumedEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeExperimentResumed,
			Time:       time.Now(),
			Experiment: experimentID,
		},
	}
}

// ExperimentStoppedEvent is published when an experiment completes
type ExperimentStoppedEvent struct {
	BaseEvent
	Winner   string
	Duration time.Duration
}

// NewExperimentStoppedEvent creates a new ExperimentStoppedEvent
func NewExperimentStoppedEvent(experimentID, winner string, duration time.Duration) *ExperimentStoppedEvent {
	return &ExperimentStoppedEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeExperimentStopped,
			Time:       time.Now(),
			Experiment: experimentID,
		},
		Winner:   winner,
		Duration: duration,
	}
}

// ExperimentCancelledEvent is published when an experiment is cancelled
type ExperimentCancelledEvent struct {
	BaseEvent
	Reason string
}

// NewExperimentCancelledEvent creates a new ExperimentCancelledEvent
func NewExperimentCancelledEvent(experimentID, reason string) *ExperimentCancelledEvent {
	return &ExperimentCancelledEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeExperimentCancelled,
			Time:       time.Now(),
			Experiment: experimentID,
		},
		Reason: reason,
	}
}

// AssignmentCreatedEvent is published when a subject is stickily assigned to a variant
type AssignmentCreatedEvent struct {
	BaseEvent
	SubjectID string
	VariantID string
}

// NewAssignmentCreatedEvent creates a new AssignmentCreatedEvent
func NewAssignmentCreatedEvent(experimentID, subjectID, variantID string) *AssignmentCreatedEvent {
	return &AssignmentCreatedEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeAssignmentCreated,
			Time:       time.Now(),
			Experiment: experimentID,
		},
		SubjectID: subjectID,
		VariantID: variantID,
	}
}

// ConversionRecordedEvent is published when a conversion lands on an assignment
type ConversionRecordedEvent struct {
	BaseEvent
	SubjectID  string
	VariantID  string
	MetricName string
	Value      float64
}

// NewConversionRecordedEvent creates a new ConversionRecordedEvent
func NewConversionRecordedEvent(experimentID, subjectID, variantID, metricName string, value float64) *ConversionRecordedEvent {
	return &ConversionRecordedEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeConversionRecorded,
			Time:       time.Now(),
			Experiment: experimentID,
		},
		SubjectID:  subjectID,
		VariantID:  variantID,
		MetricName: metricName,
		Value:      value,
	}
}

// MetricRecordedEvent is published when a secondary metric lands on an assignment
type MetricRecordedEvent struct {
	BaseEvent
	SubjectID  string
	VariantID  string
	MetricName string
	Value      float64
}

// NewMetricRecordedEvent creates a new MetricRecordedEvent
func NewMetricRecordedEvent(experimentID, subjectID, variantID, metricName string, value float64) *MetricRecordedEvent {
	return &MetricRecordedEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeMetricRecorded,
			Time:       time.Now(),
			Experiment: experimentID,
		},
		SubjectID:  subjectID,
		VariantID:  variantID,
		MetricName: metricName,
		Value:      value,
	}
}

// SignificanceUpdatedEvent is published after each significance recomputation
type SignificanceUpdatedEvent struct {
	BaseEvent
	Score         float64
	IsSignificant bool
}

// NewSignificanceUpdatedEvent creates a new SignificanceUpdatedEvent
func NewSignificanceUpdatedEvent(experimentID string, score float64, isSignificant bool) *SignificanceUpdatedEvent {
	return &SignificanceUpdatedEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeSignificanceUpdated,
			Time:       time.Now(),
			Experiment: experimentID,
		},
		Score:         score,
		IsSignificant: isSignificant,
	}
}

// StateTransitionEvent is published when an experiment changes lifecycle state
type StateTransitionEvent struct {
	BaseEvent
	FromState string
	ToState   string
	Reason    string
}

// NewStateTransitionEvent creates a new StateTransitionEvent
func NewStateTransitionEvent(experimentID, fromState, toState, reason string) *StateTransitionEvent {
	return &StateTransitionEvent{
		BaseEvent: BaseEvent{
			EventType:  TypeStateTransition,
			Time:       time.Now(),
			Experiment: experimentID,
		},
		FromState: fromState,
		ToState:   toState,
		Reason:    reason,
	}
}

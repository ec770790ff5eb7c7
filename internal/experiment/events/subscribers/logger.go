package subscribers

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/playforge/experiments/internal/experiment/events"
)

// LoggerSubscriber logs experiment events to structured logs
type LoggerSubscriber struct {
	id              string
	logger          zerolog.Logger
	logLevel        zerolog.Level
	eventTypeFilter map[string]bool // If non-nil, only log these event types
	devMode         bool            // If true, log full event details
}

// NewLoggerSubscriber creates a new logger subscriber
func NewLoggerSubscriber(id string, logger zerolog.Logger, logLevel zerolog.Level) *LoggerSubscriber {
	return &LoggerSubscriber{
		id:       id,
		logger:   logger.With().Str("subscriber", "event_logger").Logger(),
		logLevel: logLevel,
	}
}

// ID returns the subscriber's unique identifier
func (ls *LoggerSubscriber) ID() string {
	return ls.id
}

// SetEventFilter sets which event types to log (nil means log all)
func (ls *LoggerSubscriber) SetEventFilter(eventTypes []string) {
	if len(eventTypes) == 0 {
		ls.eventTypeFilter = nil
		return
	}

	ls.eventTypeFilter = make(map[string]bool)
	for _, eventType := range eventTypes {
		ls.eventTypeFilter[eventType] = true
	}
}

// SetDevMode enables or disables development mode logging
func (ls *LoggerSubscriber) SetDevMode(enabled bool) {
	ls.devMode = enabled
}

// InterestedIn returns true if the subscriber wants to receive this event type
func (ls *LoggerSubscriber) InterestedIn(eventType string) bool {
	// If no filter is set, interested in all events
	if ls.eventTypeFilter == nil {
		return true
	}
	return ls.eventTypeFilter[eventType]
}

// HandleEvent processes an event by logging it
func (ls *LoggerSubscriber) HandleEvent(event events.Event) {
	eventLogger := ls.logger.With().
		Str("event_type", event.Type()).
		Str("experiment_id", event.ExperimentID()).
		Time("timestamp", event.Timestamp()).
		Logger()

	var logEvent *zerolog.Event
	switch ls.logLevel {
	case zerolog.DebugLevel:
		logEvent = eventLogger.Debug()
	case zerolog.InfoLevel:
		logEvent = eventLogger.Info()
	case zerolog.WarnLevel:
		logEvent = eventLogger.Warn()
	case zerolog.ErrorLevel:
		logEvent = eventLogger.Error()
	default:
		logEvent = eventLogger.Info()
	}

	// Add event-specific fields based on type
	switch e := event.(type) {
	case *events.ExperimentCreatedEvent:
		logEvent.
			Str("name", e.Name).
			Str("kind", e.ExperimentKind).
			Int("variant_count", e.VariantCount).
			Str("primary_metric", e.PrimaryMetric)

	case *events.ExperimentStartedEvent:
		logEvent.Time("start_time", e.StartTime)

	case *events.ExperimentStoppedEvent:
		logEvent.
			Str("winner", e.Winner).
			Dur("duration", e.Duration)

	case *events.ExperimentCancelledEvent:
		logEvent.Str("reason", e.Reason)

	case *events.AssignmentCreatedEvent:
		logEvent.
			Str("subject_id", e.SubjectID).
			Str("variant_id", e.VariantID)

	case *events.ConversionRecordedEvent:
		logEvent.
			Str("subject_id", e.SubjectID).
			Str("variant_id", e.VariantID).
			Str("metric", e.MetricName).
			Float64("value", e.Value)

	case *events.MetricRecordedEvent:
		logEvent.
			Str("subject_id", e.SubjectID).
			Str("variant_id", e.VariantID).
			Str("metric", e.MetricName).
			Float64("value", e.Value)

	case *events.SignificanceUpdatedEvent:
		logEvent.
			Float64("score", e.Score).
			Bool("is_significant", e.IsSignificant)

	case *events.StateTransitionEvent:
		logEvent.
			Str("from_state", e.FromState).
			Str("to_state", e.ToState).
			Str("reason", e.Reason)
	}

	// In dev mode, also log the full event as JSON
	if ls.devMode {
		if jsonData, err := json.Marshal(event); err == nil {
			logEvent.RawJSON("event_data", jsonData)
		}
	}

	logEvent.Msg("Experiment event")
}

package states

import "fmt"

// Status represents the current lifecycle status of an experiment
type Status int

const (
	// StatusDraft - Experiment registered, not yet taking traffic
	StatusDraft Status = iota

	// StatusRunning - Actively assigning subjects and recording metrics
	StatusRunning

	// StatusPaused - Temporary suspension, no assignments or metric updates
	StatusPaused

	// StatusCompleted - Stopped with final results computed
	StatusCompleted

	// StatusCancelled - Abandoned without final results
	StatusCancelled
)

// String returns the string representation of a Status
func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusRunning:
		return "Running"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal returns true if the status represents a terminal state
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanAcceptTraffic returns true if assignments and metric updates are accepted
func (s Status) CanAcceptTraffic() bool {
	return s == StatusRunning
}

// AllowedTransitions returns the valid statuses this status can transition to
func (s Status) AllowedTransitions() []Status {
	switch s {
	case StatusDraft:
		return []Status{StatusRunning, StatusCancelled}
	case StatusRunning:
		return []Status{StatusPaused, StatusCompleted, StatusCancelled}
	case StatusPaused:
		return []Status{StatusRunning, StatusCompleted, StatusCancelled}
	case StatusCompleted:
		return []Status{}
	case StatusCancelled:
		return []Status{}
	default:
		return []Status{}
	}
}

// CanTransitionTo checks if a transition from this status to the target is allowed
func (s Status) CanTransitionTo(target Status) bool {
	allowed := s.AllowedTransitions()
	for _, status := range allowed {
		if status == target {
			return true
		}
	}
	return false
}

// ParseStatus converts a string to a Status
func ParseStatus(str string) Status {
	switch str {
	case "Draft":
		return StatusDraft
	case "Running":
		return StatusRunning
	case "Paused":
		return StatusPaused
	case "Completed":
		return StatusCompleted
	case "Cancelled":
		return StatusCancelled
	default:
		return StatusDraft // Default to draft for unknown statuses
	}
}

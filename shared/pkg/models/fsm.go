package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusQueued:     true, // Pending → Queued (accepted by the scheduler)
		JobStatusProcessing: true, // Pending → Processing (queue skipped)
		JobStatusFailed:     true, // Pending → Failed (rejected on validation)
		JobStatusCancelled:  true, // Pending → Cancelled (user cancels)
	},
	JobStatusQueued: {
		JobStatusProcessing: true, // Queued → Processing (worker picks up job)
		JobStatusFailed:     true, // Queued → Failed
		JobStatusCancelled:  true, // Queued → Cancelled (user cancels)
	},
	JobStatusProcessing: {
		JobStatusCompleted: true, // Processing → Completed (successful execution)
		JobStatusFailed:    true, // Processing → Failed (execution failed)
		JobStatusCancelled: true, // Processing → Cancelled (user cancels)
	},
	// Terminal states (no transitions allowed)
	JobStatusCompleted: {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// ValidateTransition checks if a state transition is valid.
// Observing the same status twice is not a transition and is always valid.
func ValidateTransition(from, to JobStatus) error {
	if from == to {
		return nil
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusCompleted || state == JobStatusFailed || state == JobStatusCancelled
}

// IsActiveState returns true if the job is actively being processed
func IsActiveState(state JobStatus) bool {
	return state == JobStatusProcessing
}

// Outcome describes what Apply did with an observation
type Outcome int

const (
	// OutcomeAccepted means the observation replaced the current state
	OutcomeAccepted Outcome = iota
	// OutcomeTerminal means the observation moved the job into a terminal state
	OutcomeTerminal
	// OutcomeStale means the observation was older than the current state and was dropped
	OutcomeStale
	// OutcomeTerminalLocked means the current state is terminal and the observation was dropped
	OutcomeTerminalLocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeStale:
		return "stale"
	case OutcomeTerminalLocked:
		return "terminal_locked"
	default:
		return "unknown"
	}
}

// Changed reports whether the observation replaced the current state
func (o Outcome) Changed() bool {
	return o == OutcomeAccepted || o == OutcomeTerminal
}

// Apply folds an observed snapshot into the current one.
//
// Observations are applied in the order their requests resolve, so a slow response may
// arrive after a newer one. An observation whose UpdatedAt is before the current
// UpdatedAt is discarded. The first terminal observation is always accepted so polling
// is guaranteed to stop, and once terminal the state never changes again.
// Progress going backwards is not rejected.
func Apply(current, observed Job) (Job, Outcome) {
	if current.IsZero() {
		if IsTerminalState(observed.Status) {
			return observed.Clone(), OutcomeTerminal
		}
		return observed.Clone(), OutcomeAccepted
	}

	if IsTerminalState(current.Status) {
		return current, OutcomeTerminalLocked
	}

	if IsTerminalState(observed.Status) {
		return observed.Clone(), OutcomeTerminal
	}

	if isStale(current, observed) {
		return current, OutcomeStale
	}

	return observed.Clone(), OutcomeAccepted
}

// isStale compares UpdatedAt when both sides carry one
func isStale(current, observed Job) bool {
	if current.UpdatedAt.IsZero() || observed.UpdatedAt.IsZero() {
		return false
	}
	return observed.UpdatedAt.Before(current.UpdatedAt)
}

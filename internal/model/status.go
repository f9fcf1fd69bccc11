package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status is the lifecycle state of a job.
type Status string

// Job status constants.
const (
	StatusQueued    Status = "QUEUED"
	StatusStarted   Status = "STARTED"
	StatusFinished  Status = "FINISHED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusQueued,
	StatusStarted,
	StatusFinished,
	StatusFailed,
	StatusCancelled,
}

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusStarted:   true,
		StatusCancelled: true,
	},
	StatusStarted: {
		StatusFinished:  true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// CheckTransition returns ErrInvalidTransition wrapped with both statuses
// when the move is not allowed.
func CheckTransition(from, to Status) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// Running reports whether the job is queued or executing.
func (s Status) Running() bool {
	return s == StatusQueued || s == StatusStarted
}

// ParseStatus converts a case-insensitive status name to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// StatusSet is a set of statuses used for coalescing and search filters.
type StatusSet map[Status]struct{}

// NewStatusSet builds a set from the given statuses.
func NewStatusSet(statuses ...Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

// Contains reports whether s is in the set. A nil set contains nothing.
func (ss StatusSet) Contains(s Status) bool {
	_, ok := ss[s]
	return ok
}

// Common coalescing sets.
var (
	CoalesceNone     = StatusSet(nil)
	CoalesceInFlight = NewStatusSet(StatusQueued, StatusStarted)
	CoalesceAny      = NewStatusSet(StatusQueued, StatusStarted, StatusFinished)
)

package models

import "errors"

// Booking error taxonomy. All are terminal for the caller except
// ErrVersionConflict, which signals an optimistic-concurrency retry and is
// handled inside the engine; callers see ErrBusy once retries run out.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrRideNotBookable      = errors.New("ride not bookable")
	ErrEligibilityDenied    = errors.New("eligibility denied")
	ErrDuplicateRequest     = errors.New("duplicate request")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrVersionConflict      = errors.New("version conflict")
	ErrBusy                 = errors.New("busy, retries exhausted")
	ErrNotRideDriver        = errors.New("actor is not the ride driver")
	ErrNotRequestPassenger  = errors.New("actor is not the request passenger")
	ErrScheduleConflict     = errors.New("schedule conflict with existing ride")
)

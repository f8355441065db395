package models

import "errors"

// Store-level guards. Stores return these when a conditional write finds the
// row in an unexpected state, so callers never rely on a single check.
var (
	ErrSlotTaken         = errors.New("time slot already taken")
	ErrBookingInactive   = errors.New("booking is not active")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already registered")
)

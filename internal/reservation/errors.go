package reservation

import "slotbook/internal/apperr"

var (
	ErrSlotNotFound     = apperr.NotFound("Time slot not found")
	ErrSlotUnavailable  = apperr.Conflict("Time slot is not available")
	ErrAlreadyBooked    = apperr.Conflict("Time slot is already booked")
	ErrBookingNotFound  = apperr.NotFound("Booking not found")
	ErrInvalidSlotID    = apperr.Validation("Slot id must be a positive number")
	ErrInvalidBookingID = apperr.Validation("Booking id must be a positive number")
	ErrUnknownOwner     = apperr.Unauthorized("Unknown client")
)

package models

import (
	"strconv"
	"time"
)

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// OwnerKey returns the booking owner key used once the user is logged in.
func (u *User) OwnerKey() string {
	return UserOwnerKey(u.ID)
}

// UserOwnerKey builds the owner key for an authenticated user id.
func UserOwnerKey(userID int64) string {
	return "USER-" + strconv.FormatInt(userID, 10)
}

// TimeSlot is a bookable interval.
type TimeSlot struct {
	ID          int64     `json:"id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Description string    `json:"description"`
	Available   bool      `json:"available"`
}

// Duration returns the length of the slot.
func (s *TimeSlot) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Booking is a claim on one slot. Active is a soft-delete flag:
// cancellation flips it to false and keeps the row.
type Booking struct {
	ID         int64     `json:"id"`
	OwnerToken string    `json:"owner_token"`
	UserID     *int64    `json:"user_id,omitempty"`
	TimeSlotID int64     `json:"time_slot_id"`
	BookedAt   time.Time `json:"booked_at"`
	Active     bool      `json:"active"`

	// Filled from the referenced slot by list queries.
	SlotDescription string    `json:"slot_description,omitempty"`
	SlotStart       time.Time `json:"slot_start,omitempty"`
}

// OwnedBy reports whether owner may act on the booking.
func (b *Booking) OwnedBy(owner string) bool {
	return owner != "" && b.OwnerToken == owner
}

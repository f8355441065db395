package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserOwnerKey(t *testing.T) {
	u := &User{ID: 42}
	assert.Equal(t, "USER-42", u.OwnerKey())
	assert.Equal(t, UserOwnerKey(42), u.OwnerKey())
}

func TestBooking_OwnedBy(t *testing.T) {
	b := &Booking{OwnerToken: "CLIENT-ABCDEF12"}

	assert.True(t, b.OwnedBy("CLIENT-ABCDEF12"))
	assert.False(t, b.OwnedBy("CLIENT-00000000"))
	assert.False(t, b.OwnedBy(""))

	anonymous := &Booking{}
	assert.False(t, anonymous.OwnedBy(""))
}

func TestTimeSlot_Duration(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := &TimeSlot{StartTime: start, EndTime: start.Add(time.Hour)}
	assert.Equal(t, time.Hour, s.Duration())
}

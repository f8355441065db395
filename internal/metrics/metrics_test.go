package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(reservations.WithLabelValues("success"))
	IncReservation("success")
	assert.Equal(t, before+1, testutil.ToFloat64(reservations.WithLabelValues("success")))

	beforeCmd := testutil.ToFloat64(commands.WithLabelValues("RESERVE", "ERROR"))
	IncCommand("RESERVE", "ERROR")
	assert.Equal(t, beforeCmd+1, testutil.ToFloat64(commands.WithLabelValues("RESERVE", "ERROR")))

	active := testutil.ToFloat64(sessionsActive)
	SessionOpened()
	assert.Equal(t, active+1, testutil.ToFloat64(sessionsActive))
	SessionClosed()
	assert.Equal(t, active, testutil.ToFloat64(sessionsActive))

	beforeNotify := testutil.ToFloat64(notifications.WithLabelValues("sent"))
	IncNotification("sent")
	assert.Equal(t, beforeNotify+1, testutil.ToFloat64(notifications.WithLabelValues("sent")))

	ObserveLockWait(time.Millisecond)
}

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slotbook"

var (
	once sync.Once

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reserve attempts by result.",
		},
		[]string{"result"},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancel attempts by result.",
		},
		[]string{"result"},
	)

	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Protocol commands handled by type and response status.",
		},
		[]string{"command", "status"},
	)

	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		},
		[]string{"result"},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Currently connected client sessions.",
		},
	)

	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Client sessions accepted since start.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Staff notifications by result.",
		},
		[]string{"result"},
	)

	backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Database backups by result.",
		},
		[]string{"result"},
	)

	slotLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_lock_wait_seconds",
			Help:      "Time spent waiting for a slot critical section.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservations,
			cancellations,
			commands,
			logins,
			sessionsActive,
			sessionsTotal,
			notifications,
			backups,
			slotLockWait,
		)
	})
}

func IncReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

func IncCancellation(result string) {
	cancellations.WithLabelValues(result).Inc()
}

func IncCommand(command, status string) {
	commands.WithLabelValues(command, status).Inc()
}

func IncLogin(result string) {
	logins.WithLabelValues(result).Inc()
}

func SessionOpened() {
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func SessionClosed() {
	sessionsActive.Dec()
}

func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}

func IncBackup(result string) {
	backups.WithLabelValues(result).Inc()
}

func ObserveLockWait(d time.Duration) {
	slotLockWait.Observe(d.Seconds())
}

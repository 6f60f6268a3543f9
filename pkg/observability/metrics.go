// Package observability holds the Prometheus collectors and the gin admin
// server shared by every channel.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loong",
			Subsystem: "control",
			Name:      "cycles_total",
			Help:      "Control loop cycles executed.",
		},
		[]string{"channel"},
	)
	overruns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loong",
			Subsystem: "control",
			Name:      "overruns_total",
			Help:      "Cycles that finished after their deadline.",
		},
		[]string{"channel"},
	)
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loong",
			Subsystem: "control",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one cycle before sleeping.",
			Buckets:   []float64{.001, .0025, .005, .01, .015, .02, .03, .05, .1},
		},
		[]string{"channel"},
	)
	sendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loong",
			Subsystem: "transport",
			Name:      "send_errors_total",
			Help:      "Command frames the socket failed to send.",
		},
		[]string{"channel"},
	)
	receiveTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loong",
			Subsystem: "transport",
			Name:      "receive_timeouts_total",
			Help:      "Cycles without a feedback frame.",
		},
		[]string{"channel"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loong",
			Subsystem: "frame",
			Name:      "dropped_total",
			Help:      "Feedback frames dropped by the decoder.",
		},
		[]string{"channel", "reason"},
	)
	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loong",
			Subsystem: "sequencer",
			Name:      "actions_total",
			Help:      "Finished or rejected actions by outcome.",
		},
		[]string{"channel", "action", "status", "reason"},
	)
	actionCycles = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loong",
			Subsystem: "sequencer",
			Name:      "action_cycles",
			Help:      "Control cycles an action stayed active.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"channel", "action"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loong",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loong",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(cycles, overruns, cycleDuration, sendErrors, receiveTimeouts,
			framesDropped, actions, actionCycles, httpRequests, httpDuration)
	})
}

func RecordCycle(channel string, busy time.Duration, overrun bool) {
	RegisterMetrics()
	cycles.WithLabelValues(channel).Inc()
	cycleDuration.WithLabelValues(channel).Observe(busy.Seconds())
	if overrun {
		overruns.WithLabelValues(channel).Inc()
	}
}

func RecordSendError(channel string) {
	RegisterMetrics()
	sendErrors.WithLabelValues(channel).Inc()
}

func RecordReceiveTimeout(channel string) {
	RegisterMetrics()
	receiveTimeouts.WithLabelValues(channel).Inc()
}

func RecordDroppedFrame(channel, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(channel, reason).Inc()
}

func RecordAction(channel, action, status, reason string, cycleCount int) {
	RegisterMetrics()
	actions.WithLabelValues(channel, action, status, reason).Inc()
	if cycleCount > 0 {
		actionCycles.WithLabelValues(channel, action).Observe(float64(cycleCount))
	}
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

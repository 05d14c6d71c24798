package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	instanceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arkwarden",
			Subsystem: "instance",
			Name:      "starts_total",
			Help:      "Number of successful server instance starts.",
		}, []string{"instance"},
	)
	instanceExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arkwarden",
			Subsystem: "instance",
			Name:      "exits_total",
			Help:      "Number of observed server instance exits.",
		}, []string{"instance"},
	)
	instanceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arkwarden",
			Subsystem: "instance",
			Name:      "stops_total",
			Help:      "Number of stop (kill) requests sent.",
		}, []string{"instance"},
	)
	runningInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arkwarden",
			Subsystem: "instance",
			Name:      "running",
			Help:      "Current number of running server instances.",
		},
	)
	instanceMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arkwarden",
			Subsystem: "instance",
			Name:      "memory_mb",
			Help:      "Last memory sample reported by the server log.",
		}, []string{"instance"},
	)
	playersOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arkwarden",
			Subsystem: "instance",
			Name:      "players_online",
			Help:      "Players currently joined according to the server log.",
		}, []string{"instance"},
	)
	tailerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arkwarden",
			Subsystem: "tailer",
			Name:      "rotations_total",
			Help:      "Number of detected log rotations or truncations.",
		}, []string{"instance"},
	)
	consoleCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arkwarden",
			Subsystem: "console",
			Name:      "commands_total",
			Help:      "Remote console commands by result.",
		}, []string{"result"},
	)
	toolAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arkwarden",
			Subsystem: "tool",
			Name:      "attempts_total",
			Help:      "Managed tool attempts by result.",
		}, []string{"tool", "result"},
	)
	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arkwarden",
			Subsystem: "tool",
			Name:      "run_duration_seconds",
			Help:      "Duration of a managed tool run including retries.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"tool"},
	)
	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arkwarden",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Streamed notices by type.",
		}, []string{"type"},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arkwarden",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Notices dropped because a subscriber was not keeping up.",
		},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arkwarden",
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Active notice subscribers.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		instanceStarts, instanceExits, instanceStops, runningInstances,
		instanceMemoryMB, playersOnline, tailerRestarts, consoleCommands,
		toolAttempts, toolDuration, eventsEmitted, eventsDropped, subscribers,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(instance string) {
	if regOK.Load() {
		instanceStarts.WithLabelValues(instance).Inc()
		runningInstances.Inc()
	}
}

func IncExit(instance string) {
	if regOK.Load() {
		instanceExits.WithLabelValues(instance).Inc()
		runningInstances.Dec()
		playersOnline.DeleteLabelValues(instance)
	}
}

func IncStop(instance string) {
	if regOK.Load() {
		instanceStops.WithLabelValues(instance).Inc()
	}
}

func SetMemoryMB(instance string, mb float64) {
	if regOK.Load() {
		instanceMemoryMB.WithLabelValues(instance).Set(mb)
	}
}

func PlayerJoined(instance string) {
	if regOK.Load() {
		playersOnline.WithLabelValues(instance).Inc()
	}
}

func PlayerLeft(instance string) {
	if regOK.Load() {
		playersOnline.WithLabelValues(instance).Dec()
	}
}

func IncRotation(instance string) {
	if regOK.Load() {
		tailerRestarts.WithLabelValues(instance).Inc()
	}
}

func IncConsoleCommand(result string) {
	if regOK.Load() {
		consoleCommands.WithLabelValues(result).Inc()
	}
}

func IncToolAttempt(tool, result string) {
	if regOK.Load() {
		toolAttempts.WithLabelValues(tool, result).Inc()
	}
}

func ObserveToolDuration(tool string, seconds float64) {
	if regOK.Load() {
		toolDuration.WithLabelValues(tool).Observe(seconds)
	}
}

func IncEvent(typ string) {
	if regOK.Load() {
		eventsEmitted.WithLabelValues(typ).Inc()
	}
}

func IncEventDropped() {
	if regOK.Load() {
		eventsDropped.Inc()
	}
}

func SetSubscribers(n int) {
	if regOK.Load() {
		subscribers.Set(float64(n))
	}
}

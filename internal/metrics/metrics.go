package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "runvisor"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	startOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "start_outcomes_total",
			Help:      "Interpreted results of the start action.",
		}, []string{"outcome"},
	)
	launchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "launch_duration_seconds",
			Help:      "Time from launch until the runtime answered ping.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "stops_total",
			Help:      "Number of stops by the step that ended the process.",
		}, []string{"method"},
	)
	controlCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "calls_total",
			Help:      "Control calls by action and outcome.",
		}, []string{"action", "outcome"},
	)
	controlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "call_duration_seconds",
			Help:      "Control call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"},
	)
	runtimeUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "up",
			Help:      "1 when the runtime process is alive and answers ping.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{stateTransitions, currentState, startOutcomes, launchDuration, stops, controlCalls, controlDuration, runtimeUp}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// RecordStateTransition counts the edge and moves the current_state gauge.
func RecordStateTransition(from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(from, to).Inc()
	if from != "" {
		currentState.WithLabelValues(from).Set(0)
	}
	currentState.WithLabelValues(to).Set(1)
}

func IncStartOutcome(outcome string) {
	if regOK.Load() {
		startOutcomes.WithLabelValues(outcome).Inc()
	}
}

func ObserveLaunchDuration(d time.Duration) {
	if regOK.Load() {
		launchDuration.Observe(d.Seconds())
	}
}

func IncStop(method string) {
	if regOK.Load() {
		stops.WithLabelValues(method).Inc()
	}
}

func SetUp(up bool) {
	if !regOK.Load() {
		return
	}
	var v float64
	if up {
		v = 1
	}
	runtimeUp.Set(v)
}

// ControlObserver records control calls. It satisfies control.Observer.
type ControlObserver struct{}

func (ControlObserver) ObserveCall(action, outcome string, d time.Duration) {
	if !regOK.Load() {
		return
	}
	controlCalls.WithLabelValues(action, outcome).Inc()
	controlDuration.WithLabelValues(action).Observe(d.Seconds())
}

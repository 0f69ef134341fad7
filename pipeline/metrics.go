package pipeline

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter is an EventSink that turns run/node lifecycle events
// into counters and exposes a breaker-state gauge fed by a
// resilience.Registry observer. It is additive: register it alongside
// another EventSink (e.g. RedisEventSink) through a fan-out, or use it
// standalone when nothing downstream needs the raw events.
type PrometheusExporter struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	nodesTotal  *prometheus.CounterVec
	breakerOpen *prometheus.GaugeVec
}

// NewPrometheusExporter builds an exporter registered against its own
// prometheus.Registry. Passing reg lets callers share a registry across
// multiple exporters (e.g. one process-wide /metrics endpoint); reg is
// created if nil.
func NewPrometheusExporter(reg *prometheus.Registry) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: reg}

	e.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by terminal event.",
		},
		[]string{"event"},
	)
	e.nodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "pipeline",
			Name:      "nodes_total",
			Help:      "Total number of pipeline node executions by event.",
		},
		[]string{"event"},
	)
	e.breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "pipeline",
			Name:      "breaker_open",
			Help:      "1 if the named circuit breaker is open or half-open, 0 if closed.",
		},
		[]string{"breaker"},
	)

	reg.MustRegister(e.runsTotal, e.nodesTotal, e.breakerOpen)
	return e
}

// runEvents and nodeEvents classify the ten EventSink event names so Emit
// can route each to the right CounterVec without a type switch at every
// call site.
var runEvents = map[string]bool{
	EventRunStarted:   true,
	EventRunCompleted: true,
	EventRunFailed:    true,
	EventRunCancelled: true,
	EventRunTimeout:   true,
}

var nodeEvents = map[string]bool{
	EventNodeStarted:   true,
	EventNodeCompleted: true,
	EventNodeFailed:    true,
	EventNodeSkipped:   true,
	EventNodeRetrying:  true,
}

// Emit satisfies EventSink. Unrecognized event names are counted nowhere;
// Emit never errors, matching the fire-and-forget contract the rest of the
// sinks follow.
func (e *PrometheusExporter) Emit(ctx context.Context, eventName string, payload map[string]interface{}) error {
	switch {
	case runEvents[eventName]:
		e.runsTotal.WithLabelValues(eventName).Inc()
	case nodeEvents[eventName]:
		e.nodesTotal.WithLabelValues(eventName).Inc()
	}
	return nil
}

// ObserveBreakerState is a resilience.StateObserver: wire it with
// registry.SetStateObserver(exporter.ObserveBreakerState) so the
// breaker_open gauge tracks every NodeBreaker transition. breaker is the
// "runID:nodeID" key a resilience.Registry uses internally.
func (e *PrometheusExporter) ObserveBreakerState(breaker string, from, to string) {
	value := 0.0
	if to == "open" || to == "half-open" {
		value = 1.0
	}
	e.breakerOpen.WithLabelValues(breaker).Set(value)
}

// Handler serves the exporter's registry in the Prometheus text exposition
// format.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// FanoutEventSink emits to every sink in order, swallowing nothing itself;
// each sink is responsible for its own failure handling (emitSwallowed
// already wraps every Emit call site). Used to run the Prometheus exporter
// alongside the production event sink without either depending on the
// other.
type FanoutEventSink struct {
	sinks []EventSink
}

func NewFanoutEventSink(sinks ...EventSink) *FanoutEventSink {
	return &FanoutEventSink{sinks: sinks}
}

func (f *FanoutEventSink) Emit(ctx context.Context, eventName string, payload map[string]interface{}) error {
	var firstErr error
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, eventName, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

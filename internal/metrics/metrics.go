// Package metrics holds the Prometheus collectors for the dispatcher, the
// command scheduler, the plugin manager and the resource watcher.
//
// A nil *Metrics is valid; every recording method is a no-op on nil so
// components can run without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultPanic = "panic"
)

// Scheduling outcome labels.
const (
	OutcomeInserted = "inserted"
	OutcomeMerged   = "merged"
	OutcomeSkipped  = "skipped"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Dispatcher metrics
	HooksMatched    *prometheus.CounterVec
	HookInvocations *prometheus.CounterVec
	HookDuration    *prometheus.HistogramVec

	// Scheduler metrics
	CommandsScheduled *prometheus.CounterVec
	CommandsExecuted  *prometheus.CounterVec
	CommandDuration   prometheus.Histogram
	CommandsPending   prometheus.Gauge

	// Plugin and scope metrics
	PluginInstances *prometheus.CounterVec
	ScopesReady     prometheus.Counter

	// Watch metrics
	WatchEvents *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
// A nil reg creates unregistered collectors.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HooksMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hooks_matched_total",
				Help:      "Total number of hook registrations matched by lifecycle events",
			},
			[]string{"kind"},
		),
		HookInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_invocations_total",
				Help:      "Total number of hook invocations by result",
			},
			[]string{"kind", "result"},
		),
		HookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "hook_duration_seconds",
				Help:      "Hook execution time in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"kind"},
		),
		CommandsScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_scheduled_total",
				Help:      "Total number of schedule requests by policy and outcome",
			},
			[]string{"policy", "outcome"},
		),
		CommandsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_executed_total",
				Help:      "Total number of executed commands by result",
			},
			[]string{"result"},
		),
		CommandDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Command execution time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		CommandsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "commands_pending",
				Help:      "Number of commands waiting in the scheduler",
			},
		),
		PluginInstances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_instances_total",
				Help:      "Total number of plugin instantiation attempts by result",
			},
			[]string{"plugin", "result"},
		),
		ScopesReady: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scopes_ready_total",
				Help:      "Total number of scopes that reached READY",
			},
		),
		WatchEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_events_total",
				Help:      "Total number of resource events delivered to listeners",
			},
			[]string{"op"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HooksMatched,
			m.HookInvocations,
			m.HookDuration,
			m.CommandsScheduled,
			m.CommandsExecuted,
			m.CommandDuration,
			m.CommandsPending,
			m.PluginInstances,
			m.ScopesReady,
			m.WatchEvents,
		)
	}

	return m
}

// HookMatched records that n hooks matched an event of the given kind.
func (m *Metrics) HookMatched(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.HooksMatched.WithLabelValues(kind).Add(float64(n))
}

// HookInvoked records one hook invocation.
func (m *Metrics) HookInvoked(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.HookInvocations.WithLabelValues(kind, result).Inc()
	m.HookDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// CommandScheduled records one schedule request.
func (m *Metrics) CommandScheduled(policy, outcome string) {
	if m == nil {
		return
	}
	m.CommandsScheduled.WithLabelValues(policy, outcome).Inc()
}

// CommandExecuted records one command execution.
func (m *Metrics) CommandExecuted(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandsExecuted.WithLabelValues(result).Inc()
	m.CommandDuration.Observe(d.Seconds())
}

// SetPending sets the pending command gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.CommandsPending.Set(float64(n))
}

// PluginInstantiated records an instantiation attempt.
func (m *Metrics) PluginInstantiated(plugin, result string) {
	if m == nil {
		return
	}
	m.PluginInstances.WithLabelValues(plugin, result).Inc()
}

// ScopeReady records a scope reaching READY.
func (m *Metrics) ScopeReady() {
	if m == nil {
		return
	}
	m.ScopesReady.Inc()
}

// WatchEvent records a delivered resource event.
func (m *Metrics) WatchEvent(op string) {
	if m == nil {
		return
	}
	m.WatchEvents.WithLabelValues(op).Inc()
}

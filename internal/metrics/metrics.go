// Package metrics exposes orchestrator tick metrics over Prometheus,
// grounded on internal/escrow/metrics.go's promauto registration
// pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every Prometheus metric the orchestrator emits. A
// nil *Collector is safe to call methods on: every method guards
// against it so wiring a collector is optional end to end.
type Collector struct {
	TickDuration     *prometheus.HistogramVec
	EventsAppended   *prometheus.CounterVec
	LockTimeouts     prometheus.Counter
	Dispatches       *prometheus.CounterVec
	WatchdogVerdicts *prometheus.CounterVec
	Retries          *prometheus.CounterVec
	TasksByState     *prometheus.GaugeVec
}

// New creates and registers all orchestrator Prometheus metrics
// against the default registerer.
func New(project string) *Collector {
	return NewWithRegisterer(project, prometheus.DefaultRegisterer)
}

// NewWithRegisterer is New, registered against reg instead of the
// global default. Tests use their own *prometheus.Registry so
// repeated calls within one test binary never collide on metric
// names already registered by another test or another Collector.
func NewWithRegisterer(project string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		TickDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_tick_duration_seconds",
				Help:    "Duration of one orchestrator reconciliation tick",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"project"},
		),
		EventsAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_events_appended_total",
				Help: "Total number of events appended to the event log",
			},
			[]string{"project", "event_type"},
		),
		LockTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "orchestrator_lock_timeouts_total",
				Help:        "Total number of event-log lock acquisition timeouts",
				ConstLabels: prometheus.Labels{"project": project},
			},
		),
		Dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_dispatches_total",
				Help: "Total number of pending tasks dispatched to a worker",
			},
			[]string{"project", "kind"}, // kind: auto_dispatch, auto_retry
		),
		WatchdogVerdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_watchdog_verdicts_total",
				Help: "Total number of watchdog verdicts observed, by verdict",
			},
			[]string{"project", "verdict"}, // verdict: PASS, WARN, BLOCK
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_auto_retries_total",
				Help: "Total number of automatic task retries",
			},
			[]string{"project"},
		),
		TasksByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orchestrator_tasks_by_state",
				Help: "Current number of tasks in each state after the last tick",
			},
			[]string{"project", "state"},
		),
	}
}

// ObserveTick records one tick's wall-clock duration in seconds.
func (c *Collector) ObserveTick(project string, seconds float64) {
	if c == nil {
		return
	}
	c.TickDuration.WithLabelValues(project).Observe(seconds)
}

// RecordEventAppended increments the per-type event counter.
func (c *Collector) RecordEventAppended(project, eventType string) {
	if c == nil {
		return
	}
	c.EventsAppended.WithLabelValues(project, eventType).Inc()
}

// RecordLockTimeout increments the lock-timeout counter.
func (c *Collector) RecordLockTimeout() {
	if c == nil {
		return
	}
	c.LockTimeouts.Inc()
}

// RecordDispatch increments the dispatch counter for kind
// (auto_dispatch or auto_retry).
func (c *Collector) RecordDispatch(project, kind string) {
	if c == nil {
		return
	}
	c.Dispatches.WithLabelValues(project, kind).Inc()
}

// RecordWatchdogVerdict increments the verdict counter.
func (c *Collector) RecordWatchdogVerdict(project, verdict string) {
	if c == nil {
		return
	}
	c.WatchdogVerdicts.WithLabelValues(project, verdict).Inc()
}

// RecordRetry increments the auto-retry counter.
func (c *Collector) RecordRetry(project string) {
	if c == nil {
		return
	}
	c.Retries.WithLabelValues(project).Inc()
}

// SetTasksByState replaces the task-state gauge snapshot for project.
// Callers pass the full set of observed states each tick so stale
// states from a previous tick are zeroed out.
func (c *Collector) SetTasksByState(project string, counts map[string]int, knownStates []string) {
	if c == nil {
		return
	}
	for _, state := range knownStates {
		c.TasksByState.WithLabelValues(project, state).Set(float64(counts[state]))
	}
}

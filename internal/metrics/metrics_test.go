package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector(project string) *Collector {
	return NewWithRegisterer(project, prometheus.NewRegistry())
}

func TestCollectorRecordsTickDuration(t *testing.T) {
	c := newTestCollector("demo-tick")
	c.ObserveTick("demo-tick", 0.25)
	assert.Equal(t, uint64(1), testutil.CollectAndCount(c.TickDuration))
}

func TestCollectorRecordsEventsAndDispatches(t *testing.T) {
	c := newTestCollector("demo-events")
	c.RecordEventAppended("demo-events", "WORKER_RUN_STARTED")
	c.RecordDispatch("demo-events", "auto_dispatch")
	c.RecordRetry("demo-events")
	c.RecordWatchdogVerdict("demo-events", "PASS")
	c.RecordLockTimeout()

	assert.Equal(t, float64(1), testutil.ToFloat64(c.EventsAppended.WithLabelValues("demo-events", "WORKER_RUN_STARTED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Dispatches.WithLabelValues("demo-events", "auto_dispatch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Retries.WithLabelValues("demo-events")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.WatchdogVerdicts.WithLabelValues("demo-events", "PASS")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.LockTimeouts))
}

func TestCollectorSetTasksByStateZeroesStaleStates(t *testing.T) {
	c := newTestCollector("demo-gauge")
	c.SetTasksByState("demo-gauge", map[string]int{"done": 2, "pending": 1}, knownTestStates)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.TasksByState.WithLabelValues("demo-gauge", "done")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.TasksByState.WithLabelValues("demo-gauge", "blocked")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveTick("p", 1)
	c.RecordEventAppended("p", "X")
	c.RecordLockTimeout()
	c.RecordDispatch("p", "auto_dispatch")
	c.RecordWatchdogVerdict("p", "PASS")
	c.RecordRetry("p")
	c.SetTasksByState("p", nil, knownTestStates)
}

var knownTestStates = []string{"pending", "running", "done", "blocked", "canceled"}

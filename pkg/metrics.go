package sharedmap

// metrics.go is a thin abstraction over Prometheus, same shape as the
// teacher's own metrics.go: a metricsSink interface with a no-op and a real
// Prometheus implementation, selected by whether the caller opted in via
// WithMetrics. The hot path (Set/Get/Has/Delete) never pays for a metrics
// update unless a registry was supplied.
//
// ┌───────────────────────────────────┐
// │ Metric                    │ Type  │
// ├────────────────────────────┼───────┤
// │ sharedmap_hits_total       │ Ctr   │
// │ sharedmap_misses_total     │ Ctr   │
// │ sharedmap_deletes_total    │ Ctr   │
// │ sharedmap_deadlock_signals_total │ Ctr │
// │ sharedmap_rechains_total   │ Ctr   │
// │ sharedmap_length           │ Gge   │
// │ sharedmap_capacity         │ Gge   │
// └───────────────────────────────────┘
//
// © 2025 sharedmap authors. MIT License.

import (
    "sync/atomic"

    "github.com/prometheus/client_golang/prometheus"
)

// metricsSink is an internal interface abstracting away the concrete
// backend (Prometheus vs noop). Not exposed outside the package.
type metricsSink interface {
    incHit()
    incMiss()
    incDelete()
    setDeadlockSignals(v float64)
    setRechains(v float64)
    setLength(v float64)
    setCapacity(v float64)
}

type noopMetrics struct{}

func (noopMetrics) incHit()                 {}
func (noopMetrics) incMiss()                {}
func (noopMetrics) incDelete()              {}
func (noopMetrics) setDeadlockSignals(float64) {}
func (noopMetrics) setRechains(float64)     {}
func (noopMetrics) setLength(float64)    {}
func (noopMetrics) setCapacity(float64)  {}

type promMetrics struct {
    hits            prometheus.Counter
    misses          prometheus.Counter
    deletes         prometheus.Counter
    deadlockSignals prometheus.Counter
    rechains        prometheus.Counter
    length          prometheus.Gauge
    capacity        prometheus.Gauge

    // Engine counters are cumulative totals, but Prometheus counters only
    // support Add(delta); these mirrors let setDeadlockSignals/setRechains
    // convert a new cumulative total into the right delta.
    lastDeadlockSignals atomic.Uint64
    lastRechains        atomic.Uint64
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
    pm := &promMetrics{
        hits: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: "sharedmap", Name: "hits_total", Help: "Number of Get/Has hits.",
        }),
        misses: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: "sharedmap", Name: "misses_total", Help: "Number of Get/Has misses.",
        }),
        deletes: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: "sharedmap", Name: "deletes_total", Help: "Number of successful deletes.",
        }),
        deadlockSignals: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: "sharedmap", Name: "deadlock_signals_total",
            Help: "Number of times the sliding-lock discipline escalated to the exclusive map lock.",
        }),
        rechains: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: "sharedmap", Name: "rechains_total",
            Help: "Number of displaced chain entries reinserted by delete.",
        }),
        length: prometheus.NewGauge(prometheus.GaugeOpts{
            Namespace: "sharedmap", Name: "length", Help: "Current entry count.",
        }),
        capacity: prometheus.NewGauge(prometheus.GaugeOpts{
            Namespace: "sharedmap", Name: "capacity", Help: "Configured slot count.",
        }),
    }
    reg.MustRegister(pm.hits, pm.misses, pm.deletes, pm.deadlockSignals, pm.rechains, pm.length, pm.capacity)
    return pm
}

func (m *promMetrics) incHit()             { m.hits.Inc() }
func (m *promMetrics) incMiss()            { m.misses.Inc() }
func (m *promMetrics) incDelete()          { m.deletes.Inc() }
func (m *promMetrics) setLength(v float64) { m.length.Set(v) }
func (m *promMetrics) setCapacity(v float64) { m.capacity.Set(v) }

func (m *promMetrics) setDeadlockSignals(v float64) {
    total := uint64(v)
    prev := m.lastDeadlockSignals.Swap(total)
    if total > prev {
        m.deadlockSignals.Add(float64(total - prev))
    }
}

func (m *promMetrics) setRechains(v float64) {
    total := uint64(v)
    prev := m.lastRechains.Swap(total)
    if total > prev {
        m.rechains.Add(float64(total - prev))
    }
}

func newMetricsSink(reg *prometheus.Registry) metricsSink {
    if reg == nil {
        return noopMetrics{}
    }
    return newPromMetrics(reg)
}

// Package metrics models the out-of-scope metrics backend a deployment
// may wire in (StatsD, Prometheus, a vendor agent). The daemon's internal
// components only ever depend on this Recorder interface; no concrete
// backend ships in this module (spec Non-goals, §1).
package metrics

// Recorder receives counters and gauges emitted across the daemon:
// decisions per outcome, cache hit rate, spool backlog size, sequence-gap
// drops, worker-pool saturation.
type Recorder interface {
	IncrCounter(name string, tags map[string]string, delta int64)
	SetGauge(name string, tags map[string]string, value float64)
}

// Noop is a Recorder that discards everything, used when no backend is
// configured.
type Noop struct{}

func (Noop) IncrCounter(name string, tags map[string]string, delta int64) {}
func (Noop) SetGauge(name string, tags map[string]string, value float64)  {}

// Package metrics exposes Prometheus collectors for exchanges, medians,
// cache evictions and clock-event repairs. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "truetime"

// Exchange results.
const (
	ResultOK      = "ok"
	ResultFailure = "failure"
)

// Metrics holds the collectors. Build it with New.
type Metrics struct {
	exchanges *prometheus.CounterVec
	rtt       prometheus.Histogram
	medians   prometheus.Counter
	evictions prometheus.Counter
	repairs   *prometheus.CounterVec
	offset    prometheus.Gauge
	rttGauge  prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "SNTP exchanges by result.",
		}, []string{"result"}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_trip_delay_seconds",
			Help:      "Round-trip delay of successful exchanges.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		medians: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "median_updates_total",
			Help:      "New medians emitted to the offset cache.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Cached samples evicted by the staleness check.",
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Cached samples repaired after a clock event, by event kind.",
		}, []string{"kind"}),
		offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_clock_offset_seconds",
			Help:      "Offset of the wall clock from network time in the cached sample.",
		}),
		rttGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_round_trip_delay_seconds",
			Help:      "Round-trip delay of the cached sample.",
		}),
	}
	for _, c := range []prometheus.Collector{m.exchanges, m.rtt, m.medians, m.evictions, m.repairs, m.offset, m.rttGauge} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveExchange records the outcome of one protocol exchange.
func (m *Metrics) ObserveExchange(s offset.Sample, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.exchanges.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.exchanges.WithLabelValues(ResultOK).Inc()
	m.rtt.Observe(millis(s.RoundTripDelay))
}

// MedianEmitted counts one median handed to the cache.
func (m *Metrics) MedianEmitted() {
	if m == nil {
		return
	}
	m.medians.Inc()
}

// Stored updates the gauges for the sample now held by the cache.
func (m *Metrics) Stored(s offset.Sample) {
	if m == nil {
		return
	}
	m.offset.Set(millis(s.SystemClockOffset))
	m.rttGauge.Set(millis(s.RoundTripDelay))
}

// Evicted counts one staleness eviction.
func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// Repaired counts one repair for the named event kind.
func (m *Metrics) Repaired(kind string) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(kind).Inc()
}

func millis(ms int64) float64 {
	return (time.Duration(ms) * time.Millisecond).Seconds()
}

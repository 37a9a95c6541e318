// Package repair corrects the cached offset sample after a clock event,
// assuming only one of the two local clocks misbehaved.
package repair

import (
	"errors"

	"github.com/go-i2p/go-truetime/lib/cache"
	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/go-i2p/go-truetime/lib/events"
	"github.com/go-i2p/go-truetime/lib/metrics"
	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/go-i2p/logger"
)

// Repairer rewrites one offset of the cached sample from the other.
type Repairer struct {
	cache   *cache.Cache
	clk     clock.Source
	metrics *metrics.Metrics
}

// New returns a Repairer over c. m may be nil.
func New(c *cache.Cache, clk clock.Source, m *metrics.Metrics) *Repairer {
	return &Repairer{cache: c, clk: clk, metrics: m}
}

// Attach registers the repairer with d.
func (r *Repairer) Attach(d *events.Dispatcher) events.HandlerID {
	return d.Register(r.Handle)
}

// Handle repairs the cached sample for kind. After a boot the uptime
// offset is rebuilt from the wall clock; after a wall clock change the
// system clock offset is rebuilt from uptime. Without a cached sample it
// does nothing. Failures are logged, never returned.
func (r *Repairer) Handle(kind events.Kind) {
	var fix func(offset.Sample) offset.Sample
	switch kind {
	case events.BootCompleted:
		fix = func(s offset.Sample) offset.Sample {
			trueNow := s.TrueTime(r.clk.WallMillis())
			return s.WithUptimeOffset(trueNow - r.clk.UptimeMillis())
		}
	case events.TimeChanged:
		fix = func(s offset.Sample) offset.Sample {
			trueNow := s.TrueTimeFromUptime(r.clk.UptimeMillis())
			return s.WithSystemClockOffset(trueNow - r.clk.WallMillis())
		}
	default:
		return
	}

	fixed, err := r.cache.Update(fix)
	switch {
	case errors.Is(err, cache.ErrMissingData):
		log.WithFields(logger.Fields{
			"at":     "repair.Handle",
			"reason": "no_baseline",
			"kind":   kind.String(),
		}).Debug("nothing to repair")
	case err != nil:
		log.WithError(err).WithFields(logger.Fields{
			"at":   "repair.Handle",
			"kind": kind.String(),
		}).Warn("offset repair failed")
	default:
		r.metrics.Repaired(kind.String())
		log.WithFields(logger.Fields{
			"at":     "repair.Handle",
			"kind":   kind.String(),
			"sample": fixed.String(),
		}).Info("offset sample repaired")
	}
}

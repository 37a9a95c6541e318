// Package cache holds the single authoritative offset sample in memory and
// mirrors it field by field into a persistent store.
//
// Every read checks that the wall clock and the uptime clock still relate
// the way they did when the sample was measured. A sample that fails the
// check is evicted from memory and storage and reported as missing, so the
// caller goes back to the network.
package cache

import (
	"errors"
	"sync"

	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/go-i2p/go-truetime/lib/metrics"
	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/go-i2p/go-truetime/lib/store"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// ErrMissingData is returned when no usable sample exists.
var ErrMissingData = errors.New("no valid offset sample available")

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records evictions and stored samples on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is safe for concurrent use. Reads, validation and writes of the
// sample happen under one lock.
type Cache struct {
	mu      sync.Mutex
	store   store.Store
	clk     clock.Source
	mem     *offset.Sample
	metrics *metrics.Metrics
}

// New returns a Cache over st. A nil st keeps the sample in memory only.
func New(st store.Store, clk clock.Source, opts ...Option) *Cache {
	if st == nil {
		st = store.NewMemory()
	}
	c := &Cache{store: st, clk: clk}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached sample. It fails with ErrMissingData when there is
// no complete sample or when the sample no longer matches the local clocks,
// in which case the sample is evicted.
func (c *Cache) Get() (offset.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.load()
	if err != nil {
		return offset.Sample{}, err
	}
	wall, uptime := c.clk.WallMillis(), c.clk.UptimeMillis()
	if s.Consistent(wall, uptime) {
		return s, nil
	}

	log.WithFields(logger.Fields{
		"at":     "cache.Get",
		"reason": "clock_disagreement",
		"sample": s.String(),
		"skew":   s.Skew(wall, uptime),
	}).Warn("cached offset is stale, evicting")
	c.metrics.Evicted()
	if err := c.evict(); err != nil {
		return offset.Sample{}, errors.Join(ErrMissingData, err)
	}
	return offset.Sample{}, ErrMissingData
}

// Has reports whether Get would return a sample right now. Unlike Get it
// never evicts.
func (c *Cache) Has() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.load()
	if err != nil {
		return false
	}
	return s.Consistent(c.clk.WallMillis(), c.clk.UptimeMillis())
}

// Put replaces the cached sample and persists all of its fields.
func (c *Cache) Put(s offset.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.put(s)
}

// Update applies fn to the stored sample and persists the result. The
// staleness check is skipped: Update exists to repair a sample after one of
// the clocks has jumped, which is exactly when the check fails. It returns
// ErrMissingData when no complete sample is stored.
func (c *Cache) Update(fn func(offset.Sample) offset.Sample) (offset.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.load()
	if err != nil {
		return offset.Sample{}, err
	}
	next := fn(s)
	if err := c.put(next); err != nil {
		return offset.Sample{}, err
	}
	return next, nil
}

// Clear evicts the sample from memory and storage.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evict()
}

func (c *Cache) put(s offset.Sample) error {
	c.mem = &s
	err := c.store.Set(map[string]int64{
		store.KeyRoundTripDelay:    s.RoundTripDelay,
		store.KeySystemClockOffset: s.SystemClockOffset,
		store.KeyUptimeOffset:      s.UptimeOffset,
	})
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":     "cache.put",
			"reason": "store_write_failed",
		}).Error("failed to persist offset sample")
		return oops.Wrapf(err, "persist offset sample")
	}
	c.metrics.Stored(s)
	log.WithFields(logger.Fields{
		"at":     "cache.put",
		"sample": s.String(),
	}).Debug("offset sample stored")
	return nil
}

// load returns the in-memory sample, falling back to the store. Only a
// sample with all three fields present counts.
func (c *Cache) load() (offset.Sample, error) {
	if c.mem != nil {
		return *c.mem, nil
	}

	var vals [3]int64
	for i, key := range store.Keys {
		v, ok, err := c.store.Get(key)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":     "cache.load",
				"reason": "store_read_failed",
				"key":    key,
			}).Error("failed to read offset field")
			return offset.Sample{}, errors.Join(ErrMissingData, oops.Wrapf(err, "read %s", key))
		}
		if !ok {
			return offset.Sample{}, ErrMissingData
		}
		vals[i] = v
	}
	s := offset.Sample{
		RoundTripDelay:    vals[0],
		SystemClockOffset: vals[1],
		UptimeOffset:      vals[2],
	}
	c.mem = &s
	return s, nil
}

func (c *Cache) evict() error {
	c.mem = nil
	if err := c.store.Delete(store.Keys...); err != nil {
		return oops.Wrapf(err, "evict offset sample")
	}
	return nil
}

// Package aggregate reduces offset samples to one estimate: the best of
// several exchanges with one host, then a running median across hosts.
package aggregate

import (
	"slices"
	"sync"

	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/go-i2p/logger"
)

// BestOfRepeat returns the sample with the smallest round-trip delay. Ties
// go to the earliest sample. The comparison is on the signed delay, so a
// negative delay caused by clock skew wins over any positive one. The
// second result is false when samples is empty.
func BestOfRepeat(samples []offset.Sample) (offset.Sample, bool) {
	if len(samples) == 0 {
		return offset.Sample{}, false
	}
	best := samples[0]
	for _, s := range samples[1:] {
		if s.RoundTripDelay < best.RoundTripDelay {
			best = s
		}
	}
	return best, true
}

// Collator keeps the per-host best samples of one query session and
// tracks their median by system clock offset. It is safe for concurrent
// use; each admission is one critical section.
type Collator struct {
	mu      sync.Mutex
	samples []offset.Sample
	median  offset.Sample
	hasMed  bool
	emit    func(offset.Sample)
}

// NewCollator returns an empty Collator. emit, if not nil, is called with
// every new median while the collator's lock is held, so calls arrive in
// admission order.
func NewCollator(emit func(offset.Sample)) *Collator {
	return &Collator{emit: emit}
}

// Admit adds s to the set unless an identical sample is already there,
// recomputes the median and reports whether it changed.
func (c *Collator) Admit(s offset.Sample) (offset.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(c.samples, s) {
		c.samples = append(c.samples, s)
	}

	sorted := slices.Clone(c.samples)
	slices.SortStableFunc(sorted, func(a, b offset.Sample) int {
		switch {
		case a.SystemClockOffset < b.SystemClockOffset:
			return -1
		case a.SystemClockOffset > b.SystemClockOffset:
			return 1
		}
		return 0
	})
	median := sorted[len(sorted)/2]

	if c.hasMed && median == c.median {
		return median, false
	}
	c.median = median
	c.hasMed = true

	log.WithFields(logger.Fields{
		"at":      "aggregate.Collator.Admit",
		"samples": len(c.samples),
		"median":  median.String(),
	}).Debug("new median")
	if c.emit != nil {
		c.emit(median)
	}
	return median, true
}

// Median returns the current median, or false before the first admission.
func (c *Collator) Median() (offset.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.median, c.hasMed
}

// Len returns the number of distinct samples admitted.
func (c *Collator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

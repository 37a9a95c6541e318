package truetime

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/go-i2p/logger"
)

const (
	DefaultSyncInterval       = 11 * time.Minute
	DefaultFailureBackoff     = 30 * time.Second
	DefaultLongFailureBackoff = 30 * time.Minute
	maxConsecutiveFails       = 10
	maxWaitInitialization     = 45 * time.Second
)

// SyncerOptions configures a Syncer.
type SyncerOptions struct {
	Servers []string
	// Interval is the base delay between successful syncs. Up to half of it
	// is added as random jitter.
	Interval time.Duration
	// FailureBackoff follows a failed sync, LongFailureBackoff follows ten
	// failures in a row.
	FailureBackoff     time.Duration
	LongFailureBackoff time.Duration
	// OnUpdate is called with the median of every successful sync.
	OnUpdate func(offset.Sample)
}

// Syncer refreshes the client's cache in the background.
type Syncer struct {
	client *Client
	opts   SyncerOptions

	mu               sync.Mutex
	running          bool
	initialized      bool
	consecutiveFails int
	last             offset.Sample
	lastErr          error

	cancel   context.CancelFunc
	trigger  chan struct{}
	initChan chan struct{}
	wg       sync.WaitGroup
}

// NewSyncer returns a stopped Syncer for c.
func NewSyncer(c *Client, opts SyncerOptions) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.FailureBackoff <= 0 {
		opts.FailureBackoff = DefaultFailureBackoff
	}
	if opts.LongFailureBackoff <= 0 {
		opts.LongFailureBackoff = DefaultLongFailureBackoff
	}
	return &Syncer{
		client:   c,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
		initChan: make(chan struct{}),
	}
}

// Start launches the sync loop. The first sync runs immediately. Calling
// Start on a running Syncer does nothing.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels any sync in flight and waits for the loop to exit.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// SyncNow asks a running Syncer to sync without waiting for the timer.
func (s *Syncer) SyncNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// WaitForInitialization blocks until the first sync finished, ctx is done
// or 45 seconds pass. It reports whether the first sync finished.
func (s *Syncer) WaitForInitialization(ctx context.Context) bool {
	select {
	case <-s.initChan:
		return true
	case <-ctx.Done():
		return false
	case <-time.After(maxWaitInitialization):
		return false
	}
}

// Last returns the result of the latest sync.
func (s *Syncer) Last() (offset.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}

func (s *Syncer) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		failed := !s.syncOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if !s.waitWithCancellation(ctx, s.calculateSleepDuration(failed)) {
			return
		}
	}
}

// syncOnce queries the servers and reports whether a median was obtained.
func (s *Syncer) syncOnce(ctx context.Context) bool {
	median, err := s.client.QueryServers(ctx, s.opts.Servers...)

	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.last = median
	}
	if !s.initialized {
		s.initialized = true
		close(s.initChan)
	}
	s.mu.Unlock()

	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":      "truetime.Syncer.syncOnce",
			"servers": len(s.opts.Servers),
		}).Warn("sync failed")
		return false
	}
	log.WithFields(logger.Fields{
		"at":     "truetime.Syncer.syncOnce",
		"median": median.String(),
	}).Info("clock offset refreshed")
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(median)
	}
	return true
}

// calculateSleepDuration backs off after failures and adds jitter after a
// success.
func (s *Syncer) calculateSleepDuration(failed bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		s.consecutiveFails++
		if s.consecutiveFails >= maxConsecutiveFails {
			return s.opts.LongFailureBackoff
		}
		return s.opts.FailureBackoff
	}
	s.consecutiveFails = 0
	jitter := time.Duration(0)
	if half := int64(s.opts.Interval / 2); half > 0 {
		jitter = time.Duration(rand.Int63n(half))
	}
	return s.opts.Interval + jitter
}

// waitWithCancellation returns false if ctx ends before d elapses or a
// manual trigger arrives.
func (s *Syncer) waitWithCancellation(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.trigger:
		return true
	case <-ctx.Done():
		return false
	}
}

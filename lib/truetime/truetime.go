package truetime

import (
	"context"
	"errors"
	"time"

	"github.com/go-i2p/go-truetime/lib/aggregate"
	"github.com/go-i2p/go-truetime/lib/cache"
	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/go-i2p/go-truetime/lib/metrics"
	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/go-i2p/go-truetime/lib/resolve"
	"github.com/go-i2p/go-truetime/lib/sampler"
	"github.com/go-i2p/go-truetime/lib/sntp"
	"github.com/go-i2p/go-truetime/lib/store"
	"github.com/go-i2p/logger"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

// DefaultRepeat is how many exchanges each address gets per query.
const DefaultRepeat = 4

// ErrMissingData is returned when no valid estimate of true time exists.
var ErrMissingData = cache.ErrMissingData

// Options wires a Client. Every field is optional.
type Options struct {
	// Exchanger performs single SNTP exchanges. Defaults to an sntp.Client.
	Exchanger sntp.Exchanger
	// Clock defaults to the host clocks.
	Clock clock.Source
	// Store persists the cached sample. Nil keeps it in memory only.
	Store store.Store
	// Resolver expands host names. Defaults to the system resolver with
	// reachability probing.
	Resolver *resolve.Resolver
	Metrics  *metrics.Metrics
	// Repeat is the number of exchanges per address; defaults to
	// DefaultRepeat.
	Repeat int
	// Retries is how many times a failed exchange is retried.
	Retries int
	// Limit caps concurrent exchanges per fan-out; zero means no cap.
	Limit int
	// Limiter paces exchange starts.
	Limiter *rate.Limiter
}

// Client is the entry point for applications. It is safe for concurrent
// use.
type Client struct {
	ex       sntp.Exchanger
	clk      clock.Source
	cache    *cache.Cache
	resolver *resolve.Resolver
	metrics  *metrics.Metrics
	repeat   int
	retries  int
	sampling []sampler.Option
}

// New builds a Client from opts.
func New(opts Options) *Client {
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	ex := opts.Exchanger
	if ex == nil {
		ex = sntp.NewClient(sntp.DefaultOptions(), nil, clk)
	}
	res := opts.Resolver
	if res == nil {
		res = &resolve.Resolver{Limit: opts.Limit}
	}
	repeat := opts.Repeat
	if repeat <= 0 {
		repeat = DefaultRepeat
	}
	retries := max(opts.Retries, 0)
	return &Client{
		ex:       ex,
		clk:      clk,
		cache:    cache.New(opts.Store, clk, cache.WithMetrics(opts.Metrics)),
		resolver: res,
		metrics:  opts.Metrics,
		repeat:   repeat,
		retries:  retries,
		sampling: []sampler.Option{sampler.WithLimit(opts.Limit), sampler.WithLimiter(opts.Limiter)},
	}
}

// Cache returns the offset cache, for wiring a repairer to it.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// Clock returns the clock source the client reads.
func (c *Client) Clock() clock.Source {
	return c.clk
}

// QueryHost performs one exchange with host, stores the result and
// returns it. The host is used as given, without resolution or probing.
func (c *Client) QueryHost(ctx context.Context, host string) (offset.Sample, error) {
	s, err := c.exchange(ctx, host)
	if err != nil {
		return offset.Sample{}, err
	}
	if err := c.cache.Put(s); err != nil {
		return s, err
	}
	return s, nil
}

// QueryServers queries every address behind hosts and stores the median
// of their best samples. It returns the final median, or an error wrapping
// ErrMissingData when no address produced a sample.
func (c *Client) QueryServers(ctx context.Context, hosts ...string) (offset.Sample, error) {
	session := uuid.NewString()
	fields := logger.Fields{"at": "truetime.QueryServers", "session": session}

	targets, err := c.resolver.Targets(ctx, hosts)
	if err != nil {
		log.WithError(err).WithFields(fields).Warn("no query targets")
		return offset.Sample{}, oops.Wrapf(errors.Join(ErrMissingData, err), "query servers")
	}

	collator := aggregate.NewCollator(func(median offset.Sample) {
		c.metrics.MedianEmitted()
		if err := c.cache.Put(median); err != nil {
			log.WithError(err).WithFields(fields).Warn("failed to store median")
		}
	})

	perTarget := func(ctx context.Context, addr string) (offset.Sample, error) {
		res := sampler.Repeat(ctx, c.repeat, addr, c.exchange, c.sampling...)
		best, ok := aggregate.BestOfRepeat(res.Outputs())
		if !ok {
			return offset.Sample{}, oops.Wrapf(res.Err(), "no sample from %s", addr)
		}
		collator.Admit(best)
		return best, nil
	}
	results := sampler.Each(ctx, targets, perTarget, c.sampling...)

	median, ok := collator.Median()
	if !ok {
		log.WithError(results.Err()).WithFields(fields).Warn("every server failed")
		return offset.Sample{}, oops.Wrapf(errors.Join(ErrMissingData, results.Err()), "query servers")
	}
	log.WithFields(logger.Fields{
		"at":        "truetime.QueryServers",
		"session":   session,
		"targets":   len(targets),
		"responded": collator.Len(),
		"median":    median.String(),
	}).Debug("query session complete")
	return median, nil
}

// exchange runs one exchange plus the configured retries.
func (c *Client) exchange(ctx context.Context, host string) (offset.Sample, error) {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		var s offset.Sample
		s, err = c.ex.Query(ctx, host)
		c.metrics.ObserveExchange(s, err)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			break
		}
		log.WithError(err).WithFields(logger.Fields{
			"at":      "truetime.exchange",
			"host":    host,
			"attempt": attempt + 1,
		}).Debug("exchange failed")
	}
	return offset.Sample{}, err
}

// NowMillis returns true time in Unix milliseconds. It fails with
// ErrMissingData when the cache holds no usable sample or when the wall
// and uptime derived times disagree.
func (c *Client) NowMillis() (int64, error) {
	s, err := c.cache.Get()
	if err != nil {
		return 0, err
	}
	wall, uptime := c.clk.WallMillis(), c.clk.UptimeMillis()
	fromWall := s.TrueTime(wall)
	fromUptime := s.TrueTimeFromUptime(uptime)
	if d := fromWall - fromUptime; d > offset.Tolerance || d < -offset.Tolerance {
		log.WithFields(logger.Fields{
			"at":          "truetime.NowMillis",
			"reason":      "clock_disagreement",
			"from_wall":   fromWall,
			"from_uptime": fromUptime,
		}).Warn("wall and uptime estimates disagree")
		return 0, oops.Wrapf(ErrMissingData, "true time estimates differ by %dms", d)
	}
	return fromWall, nil
}

// Now returns true time.
func (c *Client) Now() (time.Time, error) {
	ms, err := c.NowMillis()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// Has reports whether Now would succeed on the cached sample.
func (c *Client) Has() bool {
	return c.cache.Has()
}

// Sample returns the cached sample.
func (c *Client) Sample() (offset.Sample, error) {
	return c.cache.Get()
}

// Clear drops the cached sample.
func (c *Client) Clear() error {
	return c.cache.Clear()
}

package sntp

import (
	"context"
	"time"

	"github.com/beevik/ntp"
	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// NTPClient is the subset of github.com/beevik/ntp used by LibraryClient.
type NTPClient interface {
	QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error)
}

// DefaultNTPClient forwards to the beevik/ntp package functions.
type DefaultNTPClient struct{}

func (c *DefaultNTPClient) QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error) {
	return ntp.QueryWithOptions(host, options)
}

// LibraryClient runs the exchange through beevik/ntp and applies the same
// trust policy as Client. The library only reports an offset against the
// wall clock, so the uptime offset is derived from the live difference
// between the two clocks right after the exchange.
type LibraryClient struct {
	ntpClient NTPClient
	opts      Options
	clock     clock.Source
}

// NewLibraryClient returns a LibraryClient. A nil ntpClient uses
// DefaultNTPClient; a nil clk uses the host clocks.
func NewLibraryClient(ntpClient NTPClient, opts Options, clk clock.Source) *LibraryClient {
	if ntpClient == nil {
		ntpClient = &DefaultNTPClient{}
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &LibraryClient{ntpClient: ntpClient, opts: opts.withDefaults(), clock: clk}
}

// Query performs one exchange against host.
func (c *LibraryClient) Query(ctx context.Context, host string) (offset.Sample, error) {
	if err := ctx.Err(); err != nil {
		return offset.Sample{}, &NetworkError{Host: host, Op: "query", Err: err}
	}
	options := ntp.QueryOptions{
		Timeout: c.opts.Timeout,
		Version: Version,
		Port:    c.opts.Port,
	}
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < options.Timeout {
			options.Timeout = remaining
		}
	}

	response, err := c.ntpClient.QueryWithOptions(host, options)
	if err != nil {
		return offset.Sample{}, c.fail(host, &NetworkError{Host: host, Op: "query", Err: err})
	}
	if err := c.validateResponse(response); err != nil {
		return offset.Sample{}, c.fail(host, err)
	}

	wall, uptime := c.clock.WallMillis(), c.clock.UptimeMillis()
	clockOffset := response.ClockOffset.Milliseconds()
	sample := offset.Sample{
		RoundTripDelay:    response.RTT.Milliseconds(),
		SystemClockOffset: clockOffset,
		UptimeOffset:      clockOffset + wall - uptime,
	}

	log.WithFields(logger.Fields{
		"at":      "sntp.LibraryClient.Query",
		"host":    host,
		"stratum": response.Stratum,
		"sample":  sample.String(),
	}).Debug("SNTP exchange succeeded")
	return sample, nil
}

// validateResponse runs the library's own sanity check and then the trust
// policy on the fields the library exposes.
func (c *LibraryClient) validateResponse(response *ntp.Response) error {
	if err := response.Validate(); err != nil {
		return oops.Wrapf(ErrInvalidResponse, "%v", err)
	}
	rootDelay := float64(response.RootDelay.Microseconds()) / 1000
	rootDispersion := float64(response.RootDispersion.Microseconds()) / 1000
	if err := checkRoot(rootDelay, rootDispersion, c.opts); err != nil {
		return err
	}
	if err := checkStratum(response.Stratum); err != nil {
		return err
	}
	if response.Leap == ntp.LeapNotInSync {
		return &ValidationError{Field: "leap", Expected: 0, Actual: LeapNotInSync}
	}
	return checkResponseDelay(response.RTT.Milliseconds(), c.opts)
}

func (c *LibraryClient) fail(host string, err error) error {
	log.WithError(err).WithFields(logger.Fields{
		"at":   "sntp.LibraryClient.Query",
		"host": host,
	}).Debug("SNTP exchange failed")
	return err
}

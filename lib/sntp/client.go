package sntp

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Exchanger performs one SNTP exchange against host and returns the
// resulting sample.
type Exchanger interface {
	Query(ctx context.Context, host string) (offset.Sample, error)
}

// Dialer opens the UDP socket for one exchange. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

const (
	DefaultTimeout           = 30 * time.Second
	DefaultRootDelayMax      = 100 * time.Millisecond
	DefaultRootDispersionMax = 100 * time.Millisecond
	DefaultMaxResponseDelay  = 200 * time.Millisecond
	DefaultMaxElapsed        = 10 * time.Second
)

// Options tunes one exchange. Zero fields take the Default values.
type Options struct {
	Port              int
	Timeout           time.Duration
	RootDelayMax      time.Duration
	RootDispersionMax time.Duration
	MaxResponseDelay  time.Duration
	MaxElapsed        time.Duration
}

// DefaultOptions returns the stock exchange limits.
func DefaultOptions() Options {
	return Options{
		Port:              Port,
		Timeout:           DefaultTimeout,
		RootDelayMax:      DefaultRootDelayMax,
		RootDispersionMax: DefaultRootDispersionMax,
		MaxResponseDelay:  DefaultMaxResponseDelay,
		MaxElapsed:        DefaultMaxElapsed,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Port <= 0 || o.Port > 65535 {
		o.Port = d.Port
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.RootDelayMax <= 0 {
		o.RootDelayMax = d.RootDelayMax
	}
	if o.RootDispersionMax <= 0 {
		o.RootDispersionMax = d.RootDispersionMax
	}
	if o.MaxResponseDelay <= 0 {
		o.MaxResponseDelay = d.MaxResponseDelay
	}
	if o.MaxElapsed <= 0 {
		o.MaxElapsed = d.MaxElapsed
	}
	return o
}

// Client speaks SNTP directly over UDP. It holds no per-exchange state and
// is safe for concurrent use; every Query opens its own socket.
type Client struct {
	opts   Options
	dialer Dialer
	clock  clock.Source
}

// NewClient returns a Client reading clk around each exchange. A nil dialer
// uses a zero net.Dialer; a nil clk uses the host clocks.
func NewClient(opts Options, dialer Dialer, clk clock.Source) *Client {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Client{opts: opts.withDefaults(), dialer: dialer, clock: clk}
}

// Options returns the effective limits.
func (c *Client) Options() Options {
	return c.opts
}

// timing holds the local clock readings around one exchange.
type timing struct {
	clockAtRequest   int64
	uptimeAtRequest  int64
	clockAtResponse  int64
	uptimeAtResponse int64
}

// Query sends one request to host and validates the reply.
func (c *Client) Query(ctx context.Context, host string) (offset.Sample, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(c.opts.Port))
	conn, err := c.dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return offset.Sample{}, c.fail(host, &NetworkError{Host: host, Op: "dial", Err: err})
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return offset.Sample{}, c.fail(host, &NetworkError{Host: host, Op: "deadline", Err: err})
	}

	var tm timing
	tm.clockAtRequest = c.clock.WallMillis()
	tm.uptimeAtRequest = c.clock.UptimeMillis()
	req, err := NewRequest(tm.clockAtRequest)
	if err != nil {
		return offset.Sample{}, err
	}
	if _, err := conn.Write(req); err != nil {
		return offset.Sample{}, c.fail(host, &NetworkError{Host: host, Op: "write", Err: err})
	}

	buf := make([]byte, PacketSize*2)
	n, err := conn.Read(buf)
	if err != nil {
		return offset.Sample{}, c.fail(host, &NetworkError{Host: host, Op: "read", Err: err})
	}
	tm.uptimeAtResponse = c.clock.UptimeMillis()
	tm.clockAtResponse = c.clock.WallMillis()

	p, err := ParsePacket(buf[:n])
	if err != nil {
		return offset.Sample{}, c.fail(host, err)
	}
	sample, err := c.evaluate(p, tm)
	if err != nil {
		return offset.Sample{}, c.fail(host, err)
	}

	log.WithFields(logger.Fields{
		"at":      "sntp.Client.Query",
		"host":    host,
		"stratum": p.Stratum,
		"sample":  sample.String(),
	}).Debug("SNTP exchange succeeded")
	return sample, nil
}

// evaluate applies the trust policy to p and computes the sample.
func (c *Client) evaluate(p *Packet, tm timing) (offset.Sample, error) {
	if err := checkRoot(p.RootDelay, p.RootDispersion, c.opts); err != nil {
		return offset.Sample{}, err
	}
	if p.Mode != ModeServer && p.Mode != ModeBroadcast {
		return offset.Sample{}, &ValidationError{Field: "mode", Expected: ModeServer, Actual: float64(p.Mode)}
	}
	if err := checkStratum(p.Stratum); err != nil {
		return offset.Sample{}, err
	}
	if p.Leap == LeapNotInSync {
		return offset.Sample{}, &ValidationError{Field: "leap", Expected: 0, Actual: LeapNotInSync}
	}

	roundTripDelay := (tm.clockAtResponse - tm.clockAtRequest) - (p.TransmitTime - p.ReceiveTime)
	if err := checkResponseDelay(roundTripDelay, c.opts); err != nil {
		return offset.Sample{}, err
	}

	elapsed := abs(tm.clockAtRequest - c.clock.WallMillis())
	if elapsed >= c.opts.MaxElapsed.Milliseconds() {
		return offset.Sample{}, &ValidationError{
			Field:    "elapsed_since_request",
			Expected: float64(c.opts.MaxElapsed.Milliseconds()),
			Actual:   float64(elapsed),
		}
	}

	sample := offset.Sample{
		RoundTripDelay:    roundTripDelay,
		SystemClockOffset: ((p.ReceiveTime - tm.clockAtRequest) + (p.TransmitTime - tm.clockAtResponse)) / 2,
		UptimeOffset:      ((p.ReceiveTime - tm.uptimeAtRequest) + (p.TransmitTime - tm.uptimeAtResponse)) / 2,
	}
	if !sample.Consistent(tm.clockAtResponse, tm.uptimeAtResponse) {
		return offset.Sample{}, oops.Wrapf(ErrClockDisagreement, "skew %dms over %dms tolerance",
			sample.Skew(tm.clockAtResponse, tm.uptimeAtResponse), offset.Tolerance)
	}
	return sample, nil
}

func (c *Client) fail(host string, err error) error {
	log.WithError(err).WithFields(logger.Fields{
		"at":   "sntp.Client.Query",
		"host": host,
	}).Debug("SNTP exchange failed")
	return err
}

func checkRoot(rootDelay, rootDispersion float64, opts Options) error {
	if limit := float64(opts.RootDelayMax.Milliseconds()); rootDelay > limit {
		return &ValidationError{Field: "root_delay", Expected: limit, Actual: rootDelay}
	}
	if limit := float64(opts.RootDispersionMax.Milliseconds()); rootDispersion > limit {
		return &ValidationError{Field: "root_dispersion", Expected: limit, Actual: rootDispersion}
	}
	return nil
}

func checkStratum(stratum uint8) error {
	if stratum < 1 || stratum > 15 {
		return &ValidationError{Field: "stratum", Expected: 15, Actual: float64(stratum)}
	}
	return nil
}

func checkResponseDelay(roundTripDelay int64, opts Options) error {
	if delay := abs(roundTripDelay); delay >= opts.MaxResponseDelay.Milliseconds() {
		return &ValidationError{
			Field:    "server_response_delay",
			Expected: float64(opts.MaxResponseDelay.Milliseconds()),
			Actual:   float64(delay),
		}
	}
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

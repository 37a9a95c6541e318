// Package resolve turns server host names into the set of addresses worth
// querying: every address the names resolve to that answers a quick
// reachability probe.
package resolve

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-i2p/go-truetime/lib/sampler"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const (
	DefaultProbePort    = 80
	DefaultProbeTimeout = 5 * time.Second
)

// ErrNoTargets is returned when no host yielded a usable address.
var ErrNoTargets = errors.New("no reachable server addresses")

// LookupFunc resolves host to addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// ProbeFunc returns nil if addr looks reachable.
type ProbeFunc func(ctx context.Context, addr string) error

// Resolver expands host names into query targets. The zero value resolves
// through the system resolver and probes TCP port 80.
type Resolver struct {
	Lookup       LookupFunc
	Probe        ProbeFunc
	ProbePort    int
	ProbeTimeout time.Duration
	// DisableProbe keeps every resolved address.
	DisableProbe bool
	// Limit caps concurrent lookups and probes; zero means no cap.
	Limit int
}

// Targets resolves all hosts and probes all addresses concurrently. The
// result keeps first-seen order and holds each address once. It fails
// with ErrNoTargets only when nothing usable is left.
func (r *Resolver) Targets(ctx context.Context, hosts []string) ([]string, error) {
	lookups := sampler.Each(ctx, hosts, r.lookup, sampler.WithLimit(r.Limit))
	for _, o := range lookups.Outcomes {
		if o.Err != nil {
			log.WithError(o.Err).WithFields(logger.Fields{
				"at":     "resolve.Targets",
				"reason": "lookup_failed",
				"host":   o.Input,
			}).Warn("skipping unresolvable host")
		}
	}

	seen := make(map[string]struct{})
	var addrs []string
	for _, list := range lookups.Outputs() {
		for _, a := range list {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			addrs = append(addrs, a)
		}
	}

	if !r.DisableProbe && len(addrs) > 0 {
		probes := sampler.Each(ctx, addrs, r.probe, sampler.WithLimit(r.Limit))
		addrs = addrs[:0]
		for _, o := range probes.Outcomes {
			if o.Err != nil {
				log.WithError(o.Err).WithFields(logger.Fields{
					"at":     "resolve.Targets",
					"reason": "unreachable",
					"addr":   o.Input,
				}).Debug("dropping unreachable address")
				continue
			}
			addrs = append(addrs, o.Input)
		}
	}

	if len(addrs) == 0 {
		return nil, oops.Wrapf(errors.Join(ErrNoTargets, lookups.Err()), "resolve %d hosts", len(hosts))
	}
	log.WithFields(logger.Fields{
		"at":      "resolve.Targets",
		"hosts":   len(hosts),
		"targets": len(addrs),
	}).Debug("resolved query targets")
	return addrs, nil
}

func (r *Resolver) lookup(ctx context.Context, host string) ([]string, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []string{ip.String()}, nil
	}
	fn := r.Lookup
	if fn == nil {
		fn = net.DefaultResolver.LookupHost
	}
	addrs, err := fn(ctx, host)
	if err != nil {
		return nil, oops.Wrapf(err, "lookup %s", host)
	}
	return addrs, nil
}

func (r *Resolver) probe(ctx context.Context, addr string) (struct{}, error) {
	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.Probe != nil {
		return struct{}{}, r.Probe(ctx, addr)
	}
	port := r.ProbePort
	if port <= 0 {
		port = DefaultProbePort
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return struct{}{}, oops.Wrapf(err, "probe %s", addr)
	}
	return struct{}{}, conn.Close()
}

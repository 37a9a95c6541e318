package sntp

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWall   = int64(1_700_000_000_000)
	testUptime = int64(3_600_000)
)

// fakeServer answers SNTP requests on loopback with whatever reply builds.
type fakeServer struct {
	conn  net.PacketConn
	reply func(req []byte) []byte
}

func startFakeServer(t *testing.T, reply func(req []byte) []byte) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{conn: conn, reply: reply}
	t.Cleanup(func() { conn.Close() })
	go s.serve()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *fakeServer) serve() {
	buf := make([]byte, 512)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		req := make([]byte, n)
		copy(req, buf[:n])
		if resp := s.reply(req); resp != nil {
			s.conn.WriteTo(resp, addr)
		}
	}
}

// goodReply simulates a server one second ahead of the local clocks and a
// 20ms round trip.
func goodReply(clk *clock.Manual, mutate func(p *Packet)) func(req []byte) []byte {
	return func(req []byte) []byte {
		sent := ReadTimestamp(req[indexTransmitTime:])
		clk.Advance(20 * time.Millisecond)
		p := &Packet{
			Version:        Version,
			Mode:           ModeServer,
			Stratum:        2,
			RootDelay:      5,
			RootDispersion: 5,
			OriginateTime:  sent,
			ReceiveTime:    sent + 1_010,
			TransmitTime:   sent + 1_010,
		}
		if mutate != nil {
			mutate(p)
		}
		return p.Marshal()
	}
}

func newTestClient(port int, clk clock.Source) *Client {
	return NewClient(Options{Port: port, Timeout: 2 * time.Second}, nil, clk)
}

func TestQueryAgainstFakeServer(t *testing.T) {
	clk := clock.NewManual(testWall, testUptime)
	port := startFakeServer(t, goodReply(clk, nil))

	sample, err := newTestClient(port, clk).Query(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, int64(20), sample.RoundTripDelay)
	assert.Equal(t, int64(1_000), sample.SystemClockOffset)
	assert.Equal(t, testWall-testUptime+1_000, sample.UptimeOffset)
	assert.True(t, sample.Consistent(clk.WallMillis(), clk.UptimeMillis()))
}

func TestQueryRequestIsClientMode(t *testing.T) {
	clk := clock.NewManual(testWall, testUptime)
	seen := make(chan []byte, 1)
	reply := goodReply(clk, nil)
	port := startFakeServer(t, func(req []byte) []byte {
		seen <- req
		return reply(req)
	})

	_, err := newTestClient(port, clk).Query(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	req := <-seen
	require.Len(t, req, PacketSize)
	assert.Equal(t, byte(0x1b), req[0])
	assert.Equal(t, testWall, ReadTimestamp(req[indexTransmitTime:]))
}

func TestQueryValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Packet)
		clock  func(clk *clock.Manual)
		field  string
	}{
		{name: "root delay", mutate: func(p *Packet) { p.RootDelay = 150 }, field: "root_delay"},
		{name: "root dispersion", mutate: func(p *Packet) { p.RootDispersion = 150 }, field: "root_dispersion"},
		{name: "client mode", mutate: func(p *Packet) { p.Mode = ModeClient }, field: "mode"},
		{name: "symmetric mode", mutate: func(p *Packet) { p.Mode = 1 }, field: "mode"},
		{name: "stratum zero", mutate: func(p *Packet) { p.Stratum = 0 }, field: "stratum"},
		{name: "stratum sixteen", mutate: func(p *Packet) { p.Stratum = 16 }, field: "stratum"},
		{name: "unsynchronized", mutate: func(p *Packet) { p.Leap = LeapNotInSync }, field: "leap"},
		{
			name:   "slow response",
			mutate: func(p *Packet) {},
			clock:  func(clk *clock.Manual) { clk.Advance(230 * time.Millisecond) },
			field:  "server_response_delay",
		},
		{
			name:   "negative delay",
			mutate: func(p *Packet) { p.TransmitTime = p.ReceiveTime + 300 },
			field:  "server_response_delay",
		},
		{
			name:   "late response",
			mutate: func(p *Packet) { p.TransmitTime = p.ReceiveTime + 10_010 },
			clock:  func(clk *clock.Manual) { clk.Advance(10_030 * time.Millisecond) },
			field:  "elapsed_since_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewManual(testWall, testUptime)
			reply := goodReply(clk, tt.mutate)
			port := startFakeServer(t, func(req []byte) []byte {
				if tt.clock != nil {
					tt.clock(clk)
				}
				return reply(req)
			})

			sample, err := newTestClient(port, clk).Query(context.Background(), "127.0.0.1")
			require.Error(t, err)
			assert.Equal(t, offset.Sample{}, sample)
			assert.ErrorIs(t, err, ErrInvalidResponse)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestQueryAcceptsBroadcastMode(t *testing.T) {
	clk := clock.NewManual(testWall, testUptime)
	port := startFakeServer(t, goodReply(clk, func(p *Packet) { p.Mode = ModeBroadcast }))

	_, err := newTestClient(port, clk).Query(context.Background(), "127.0.0.1")
	assert.NoError(t, err)
}

func TestQueryStratumBounds(t *testing.T) {
	for _, stratum := range []uint8{1, 15} {
		clk := clock.NewManual(testWall, testUptime)
		port := startFakeServer(t, goodReply(clk, func(p *Packet) { p.Stratum = stratum }))

		_, err := newTestClient(port, clk).Query(context.Background(), "127.0.0.1")
		assert.NoError(t, err, "stratum %d", stratum)
	}
}

// A wall-clock step during the exchange leaves the two offsets describing
// different clocks; the sample is rejected.
func TestQueryRejectsWallStepDuringExchange(t *testing.T) {
	clk := clock.NewManual(testWall, testUptime)
	port := startFakeServer(t, func(req []byte) []byte {
		sent := ReadTimestamp(req[indexTransmitTime:])
		clk.SetWall(testWall + 5_000)
		return (&Packet{
			Version:        Version,
			Mode:           ModeServer,
			Stratum:        2,
			RootDelay:      5,
			RootDispersion: 5,
			ReceiveTime:    sent + 1_000,
			TransmitTime:   sent + 5_990,
		}).Marshal()
	})

	_, err := newTestClient(port, clk).Query(context.Background(), "127.0.0.1")
	assert.ErrorIs(t, err, ErrClockDisagreement)
}

func TestQueryTimeout(t *testing.T) {
	clk := clock.NewManual(testWall, testUptime)
	port := startFakeServer(t, func(req []byte) []byte { return nil })

	c := NewClient(Options{Port: port, Timeout: 100 * time.Millisecond}, nil, clk)
	_, err := c.Query(context.Background(), "127.0.0.1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestQueryHonoursContextDeadline(t *testing.T) {
	clk := clock.NewManual(testWall, testUptime)
	port := startFakeServer(t, func(req []byte) []byte { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestClient(port, clk).Query(ctx, "127.0.0.1")
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueryShortReply(t *testing.T) {
	clk := clock.NewManual(testWall, testUptime)
	port := startFakeServer(t, func(req []byte) []byte { return make([]byte, 10) })

	_, err := newTestClient(port, clk).Query(context.Background(), "127.0.0.1")
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestQueryDialFailure(t *testing.T) {
	_, err := NewClient(Options{}, nil, nil).Query(context.Background(), "bad host name")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestOptionsDefaults(t *testing.T) {
	c := NewClient(Options{Port: -1}, nil, nil)
	assert.Equal(t, DefaultOptions(), c.Options())
}

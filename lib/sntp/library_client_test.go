package sntp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockNTPClient struct {
	Response *ntp.Response
	Error    error
	Options  ntp.QueryOptions
	Host     string
}

func (c *MockNTPClient) QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error) {
	c.Host = host
	c.Options = options
	if c.Error != nil {
		return nil, c.Error
	}
	r := *c.Response
	return &r, nil
}

func validResponse() *ntp.Response {
	now := time.Now()
	return &ntp.Response{
		Time:           now,
		ReferenceTime:  now.Add(-time.Minute),
		Leap:           ntp.LeapNoWarning,
		Stratum:        2,
		RTT:            30 * time.Millisecond,
		ClockOffset:    1500 * time.Millisecond,
		RootDispersion: 5 * time.Millisecond,
		RootDelay:      10 * time.Millisecond,
	}
}

func TestLibraryClientQuery(t *testing.T) {
	clk := clock.NewManual(testWall, testUptime)
	mock := &MockNTPClient{Response: validResponse()}
	c := NewLibraryClient(mock, Options{Port: 1123, Timeout: 3 * time.Second}, clk)

	sample, err := c.Query(context.Background(), "time.example.org")
	require.NoError(t, err)

	assert.Equal(t, "time.example.org", mock.Host)
	assert.Equal(t, 1123, mock.Options.Port)
	assert.Equal(t, 3*time.Second, mock.Options.Timeout)
	assert.Equal(t, Version, mock.Options.Version)

	assert.Equal(t, int64(30), sample.RoundTripDelay)
	assert.Equal(t, int64(1500), sample.SystemClockOffset)
	assert.Equal(t, int64(1500)+testWall-testUptime, sample.UptimeOffset)
	assert.True(t, sample.Consistent(clk.WallMillis(), clk.UptimeMillis()))
}

func TestLibraryClientValidateResponse(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *ntp.Response)
	}{
		{name: "leap", mutate: func(r *ntp.Response) { r.Leap = ntp.LeapNotInSync }},
		{name: "stratum", mutate: func(r *ntp.Response) { r.Stratum = 0 }},
		{name: "root dispersion", mutate: func(r *ntp.Response) { r.RootDispersion = 150 * time.Millisecond }},
		{name: "root delay", mutate: func(r *ntp.Response) { r.RootDelay = 150 * time.Millisecond }},
		{name: "rtt", mutate: func(r *ntp.Response) { r.RTT = 250 * time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := validResponse()
			tt.mutate(resp)
			c := NewLibraryClient(&MockNTPClient{Response: resp}, Options{}, clock.NewManual(testWall, testUptime))

			_, err := c.Query(context.Background(), "time.example.org")
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestLibraryClientNetworkError(t *testing.T) {
	cause := errors.New("i/o timeout")
	c := NewLibraryClient(&MockNTPClient{Error: cause}, Options{}, nil)

	_, err := c.Query(context.Background(), "time.example.org")
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, cause)
}

func TestLibraryClientCancelledContext(t *testing.T) {
	mock := &MockNTPClient{Response: validResponse()}
	c := NewLibraryClient(mock, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Query(ctx, "time.example.org")
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Empty(t, mock.Host, "no query after cancellation")
}

func TestLibraryClientSatisfiesExchanger(t *testing.T) {
	var _ Exchanger = NewLibraryClient(nil, Options{}, nil)
	var _ Exchanger = NewClient(Options{}, nil, nil)
}

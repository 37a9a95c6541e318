package repair

import (
	"testing"
	"time"

	"github.com/go-i2p/go-truetime/lib/cache"
	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/go-i2p/go-truetime/lib/events"
	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/go-i2p/go-truetime/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootCompletedRebuildsUptimeOffset(t *testing.T) {
	clk := clock.NewManual(90_000, 40_000)
	c := cache.New(store.NewMemory(), clk)
	before := offset.Sample{RoundTripDelay: 12, SystemClockOffset: 500, UptimeOffset: 50_500}
	require.NoError(t, c.Put(before))

	// Reboot: uptime restarts, the wall clock keeps going.
	clk.SetWall(100_000)
	clk.SetUptime(3_000)
	_, err := c.Get()
	require.ErrorIs(t, err, cache.ErrMissingData, "a reboot makes the sample stale")
	require.NoError(t, c.Put(before))

	New(c, clk, nil).Handle(events.BootCompleted)

	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(100_000+500-3_000), got.UptimeOffset)
	assert.Equal(t, before.SystemClockOffset, got.SystemClockOffset)
	assert.Equal(t, before.RoundTripDelay, got.RoundTripDelay)
}

func TestTimeChangedRebuildsClockOffset(t *testing.T) {
	clk := clock.NewManual(1_000_000, 10_000)
	c := cache.New(nil, clk)
	// True time is 1_000_250.
	before := offset.Sample{RoundTripDelay: 8, SystemClockOffset: 250, UptimeOffset: 990_250}
	require.NoError(t, c.Put(before))

	clk.Advance(time.Second)
	clk.SetWall(clk.WallMillis() + 3_600_000)

	New(c, clk, nil).Handle(events.TimeChanged)

	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(250-3_600_000), got.SystemClockOffset)
	assert.Equal(t, before.UptimeOffset, got.UptimeOffset)
	assert.Equal(t, int64(1_001_250), got.TrueTime(clk.WallMillis()))
}

func TestHandleWithoutBaselineIsNoop(t *testing.T) {
	st := store.NewMemory()
	c := cache.New(st, clock.NewManual(100_000, 1_000))

	assert.NotPanics(t, func() {
		New(c, clock.NewManual(100_000, 1_000), nil).Handle(events.BootCompleted)
	})
	assert.False(t, c.Has())
	_, ok, _ := st.Get(store.KeyUptimeOffset)
	assert.False(t, ok)
}

func TestHandleUnknownKindIsIgnored(t *testing.T) {
	clk := clock.NewManual(1000, 1000)
	c := cache.New(nil, clk)
	s := offset.Sample{SystemClockOffset: 5, UptimeOffset: 5}
	require.NoError(t, c.Put(s))

	New(c, clk, nil).Handle(events.Kind(42))
	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestAttachReceivesDispatchedEvents(t *testing.T) {
	clk := clock.NewManual(50_000, 20_000)
	c := cache.New(nil, clk)
	require.NoError(t, c.Put(offset.Sample{SystemClockOffset: 100, UptimeOffset: 30_100}))

	d := events.NewDispatcher()
	New(c, clk, nil).Attach(d)

	clk.SetUptime(10)
	d.Dispatch(events.BootCompleted)

	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(50_100-10), got.UptimeOffset)
}

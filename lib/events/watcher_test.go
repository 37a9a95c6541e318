package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct{ kinds []Kind }

func (r *recorder) handle(k Kind) { r.kinds = append(r.kinds, k) }

func newRecorded() (*Dispatcher, *recorder) {
	d := NewDispatcher()
	r := &recorder{}
	d.Register(r.handle)
	return d, r
}

func writeBootID(t *testing.T, dir, id string) string {
	p := filepath.Join(dir, "boot_id")
	require.NoError(t, os.WriteFile(p, []byte(id+"\n"), 0o600))
	return p
}

func TestPollDetectsWallStep(t *testing.T) {
	clk := clock.NewManual(1_000_000, 5_000)
	d, r := newRecorded()
	w := NewWatcher(clk, d, WatcherOptions{Threshold: time.Second})

	clk.Advance(10 * time.Second)
	assert.False(t, w.Poll())

	clk.SetWall(clk.WallMillis() + 500)
	assert.False(t, w.Poll(), "steps within the threshold are ignored")

	clk.SetWall(clk.WallMillis() - 60_000)
	assert.True(t, w.Poll())
	assert.False(t, w.Poll(), "the new relation becomes the baseline")

	assert.Equal(t, []Kind{TimeChanged}, r.kinds)
}

func TestCheckBootWithoutMarker(t *testing.T) {
	dir := t.TempDir()
	d, r := newRecorded()
	w := NewWatcher(clock.NewManual(1000, 1000), d, WatcherOptions{
		MarkerPath: filepath.Join(dir, "marker.yaml"),
		BootIDPath: writeBootID(t, dir, "aaaa"),
	})

	booted, err := w.CheckBoot()
	require.NoError(t, err)
	assert.False(t, booted)
	assert.Empty(t, r.kinds)
	assert.FileExists(t, filepath.Join(dir, "marker.yaml"))
}

func TestCheckBootByBootID(t *testing.T) {
	dir := t.TempDir()
	markerPath := filepath.Join(dir, "marker.yaml")
	clk := clock.NewManual(1000, 100_000)

	d, r := newRecorded()
	opts := WatcherOptions{MarkerPath: markerPath, BootIDPath: writeBootID(t, dir, "aaaa")}
	_, err := NewWatcher(clk, d, opts).CheckBoot()
	require.NoError(t, err)

	// Same boot: uptime moved on, nothing to report.
	clk.Advance(time.Minute)
	booted, err := NewWatcher(clk, d, opts).CheckBoot()
	require.NoError(t, err)
	assert.False(t, booted)

	// New boot id, even though uptime is larger than before.
	writeBootID(t, dir, "bbbb")
	clk.Advance(time.Hour)
	booted, err = NewWatcher(clk, d, opts).CheckBoot()
	require.NoError(t, err)
	assert.True(t, booted)
	assert.Equal(t, []Kind{BootCompleted}, r.kinds)
}

func TestCheckBootUptimeFallback(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(1_000_000, 500_000)
	d, r := newRecorded()
	opts := WatcherOptions{MarkerPath: filepath.Join(dir, "marker.yaml"), BootIDPath: "-"}

	_, err := NewWatcher(clk, d, opts).CheckBoot()
	require.NoError(t, err)

	clk.SetUptime(2_000)
	booted, err := NewWatcher(clk, d, opts).CheckBoot()
	require.NoError(t, err)
	assert.True(t, booted)
	assert.Equal(t, []Kind{BootCompleted}, r.kinds)
}

func TestCheckBootCorruptMarker(t *testing.T) {
	dir := t.TempDir()
	markerPath := filepath.Join(dir, "marker.yaml")
	require.NoError(t, os.WriteFile(markerPath, []byte("uptime: [nope"), 0o600))

	d, r := newRecorded()
	booted, err := NewWatcher(clock.NewManual(1, 1), d, WatcherOptions{MarkerPath: markerPath, BootIDPath: "-"}).CheckBoot()
	require.NoError(t, err)
	assert.False(t, booted)
	assert.Empty(t, r.kinds)
}

func TestCheckBootDisabled(t *testing.T) {
	d, _ := newRecorded()
	booted, err := NewWatcher(clock.NewManual(1, 1), d, WatcherOptions{}).CheckBoot()
	require.NoError(t, err)
	assert.False(t, booted)
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	markerPath := filepath.Join(dir, "marker.yaml")
	d, _ := newRecorded()
	w := NewWatcher(clock.NewManual(1000, 1000), d, WatcherOptions{
		Interval:   5 * time.Millisecond,
		MarkerPath: markerPath,
		BootIDPath: "-",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.FileExists(t, markerPath)
}

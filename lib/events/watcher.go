package events

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// DefaultBootIDPath is where Linux publishes the id of the current boot.
const DefaultBootIDPath = "/proc/sys/kernel/random/boot_id"

// Watcher defaults.
const (
	DefaultInterval  = time.Second
	DefaultThreshold = 1000 * time.Millisecond
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Interval between clock-step checks.
	Interval time.Duration
	// Threshold is how far wall−uptime may drift between two checks
	// before TimeChanged is dispatched.
	Threshold time.Duration
	// MarkerPath holds what the previous run saw. Empty disables boot
	// detection.
	MarkerPath string
	// BootIDPath overrides DefaultBootIDPath. Set to "-" to force the
	// uptime fallback.
	BootIDPath string
}

// marker is the state a Watcher leaves behind for the next run.
type marker struct {
	BootID string `yaml:"boot_id,omitempty"`
	Uptime int64  `yaml:"uptime"`
	Wall   int64  `yaml:"wall"`
}

// Watcher turns local clock observations into events. It detects a boot
// that happened between two runs and wall clock steps while it runs.
type Watcher struct {
	clk  clock.Source
	d    *Dispatcher
	opts WatcherOptions

	base int64
}

// NewWatcher returns a Watcher dispatching to d.
func NewWatcher(clk clock.Source, d *Dispatcher, opts WatcherOptions) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.BootIDPath == "" {
		opts.BootIDPath = DefaultBootIDPath
	}
	w := &Watcher{clk: clk, d: d, opts: opts}
	w.base = w.clk.WallMillis() - w.clk.UptimeMillis()
	return w
}

// CheckBoot compares the current boot with the marker from the previous
// run, dispatches BootCompleted if they differ and records the current
// state. Without a previous marker nothing is dispatched.
func (w *Watcher) CheckBoot() (bool, error) {
	if w.opts.MarkerPath == "" {
		return false, nil
	}
	prev, found, err := w.readMarker()
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":     "events.Watcher.CheckBoot",
			"reason": "marker_unreadable",
			"path":   w.opts.MarkerPath,
		}).Warn("ignoring previous boot marker")
		found = false
	}
	cur := w.current()

	booted := false
	if found {
		if cur.BootID != "" && prev.BootID != "" {
			booted = cur.BootID != prev.BootID
		} else {
			booted = cur.Uptime < prev.Uptime
		}
	}
	if err := w.writeMarker(cur); err != nil {
		return false, err
	}
	if booted {
		log.WithFields(logger.Fields{
			"at":          "events.Watcher.CheckBoot",
			"prev_uptime": prev.Uptime,
			"uptime":      cur.Uptime,
		}).Info("boot detected since last run")
		w.d.Dispatch(BootCompleted)
	}
	return booted, nil
}

// Poll checks once for a wall clock step since the previous check and
// dispatches TimeChanged when one is found.
func (w *Watcher) Poll() bool {
	diff := w.clk.WallMillis() - w.clk.UptimeMillis()
	step := diff - w.base
	w.base = diff
	if step < 0 {
		step = -step
	}
	if step <= w.opts.Threshold.Milliseconds() {
		return false
	}
	log.WithFields(logger.Fields{
		"at":      "events.Watcher.Poll",
		"step_ms": step,
	}).Info("wall clock step detected")
	w.d.Dispatch(TimeChanged)
	return true
}

// Run checks for a boot and then polls until ctx is done. The marker is
// refreshed on return so the next run compares against recent state.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := w.CheckBoot(); err != nil {
		return err
	}
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if w.opts.MarkerPath != "" {
				if err := w.writeMarker(w.current()); err != nil {
					return err
				}
			}
			return nil
		case <-ticker.C:
			w.Poll()
		}
	}
}

func (w *Watcher) current() marker {
	return marker{
		BootID: readBootID(w.opts.BootIDPath),
		Uptime: w.clk.UptimeMillis(),
		Wall:   w.clk.WallMillis(),
	}
}

func readBootID(path string) string {
	if path == "-" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}

func (w *Watcher) readMarker() (marker, bool, error) {
	var m marker
	b, err := os.ReadFile(w.opts.MarkerPath)
	if errors.Is(err, fs.ErrNotExist) {
		return m, false, nil
	}
	if err != nil {
		return m, false, oops.Wrapf(err, "read boot marker")
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, false, oops.Wrapf(err, "decode boot marker")
	}
	return m, true, nil
}

func (w *Watcher) writeMarker(m marker) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return oops.Wrapf(err, "encode boot marker")
	}
	if err := os.MkdirAll(filepath.Dir(w.opts.MarkerPath), 0o700); err != nil {
		return oops.Wrapf(err, "create marker directory")
	}
	if err := os.WriteFile(w.opts.MarkerPath, b, 0o600); err != nil {
		return oops.Wrapf(err, "write boot marker")
	}
	return nil
}

//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// uptimeMillis reads CLOCK_BOOTTIME, which keeps running through suspend and
// restarts from zero on reboot.
func uptimeMillis() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		log.WithError(err).Warn("CLOCK_BOOTTIME unavailable, using process monotonic clock")
		return fallbackUptimeMillis()
	}
	return time.Duration(ts.Nano()).Milliseconds()
}

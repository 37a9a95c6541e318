// Package offset defines the offset sample shared by the protocol client,
// the aggregator, the offset cache and the clock-event repairer.
package offset

import "fmt"

// Tolerance is the maximum disagreement, in milliseconds, between the
// wall-clock and uptime estimates of true time before a sample is
// considered stale.
const Tolerance int64 = 10

// Sample is one measurement of how far the local clocks are from network
// time. All fields are in milliseconds. Sample is a value type: two samples
// are the same sample when all three fields are equal.
type Sample struct {
	// RoundTripDelay is the measured network round trip of the exchange.
	// It is signed; clock skew during the exchange can make it negative.
	RoundTripDelay int64
	// SystemClockOffset is added to the wall clock to get true time.
	SystemClockOffset int64
	// UptimeOffset is added to the since-boot clock to get true time.
	UptimeOffset int64
}

// WithUptimeOffset returns a copy of s with UptimeOffset replaced.
func (s Sample) WithUptimeOffset(v int64) Sample {
	s.UptimeOffset = v
	return s
}

// WithSystemClockOffset returns a copy of s with SystemClockOffset replaced.
func (s Sample) WithSystemClockOffset(v int64) Sample {
	s.SystemClockOffset = v
	return s
}

// ClockDiff is the distance between the two offsets, fixed when the sample
// was measured.
func (s Sample) ClockDiff() int64 {
	return abs(s.SystemClockOffset - s.UptimeOffset)
}

// Skew returns how far the stored clock difference is from the live one.
func (s Sample) Skew(wall, uptime int64) int64 {
	return abs(s.ClockDiff() - abs(wall-uptime))
}

// Consistent reports whether the sample still describes clocks that read
// wall and uptime right now. A false result means at least one of the two
// local clocks moved on its own since the sample was taken.
func (s Sample) Consistent(wall, uptime int64) bool {
	return s.Skew(wall, uptime) <= Tolerance
}

// TrueTime returns network time in Unix milliseconds for a wall reading.
func (s Sample) TrueTime(wall int64) int64 {
	return wall + s.SystemClockOffset
}

// TrueTimeFromUptime returns network time in Unix milliseconds for an
// uptime reading.
func (s Sample) TrueTimeFromUptime(uptime int64) int64 {
	return uptime + s.UptimeOffset
}

func (s Sample) String() string {
	return fmt.Sprintf("offset{rtt=%dms clock=%dms uptime=%dms}",
		s.RoundTripDelay, s.SystemClockOffset, s.UptimeOffset)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

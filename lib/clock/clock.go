package clock

import (
	"sync"
	"time"
)

// Source reads the two local clocks.
type Source interface {
	// WallMillis returns the wall clock as Unix milliseconds.
	WallMillis() int64
	// UptimeMillis returns milliseconds since boot.
	UptimeMillis() int64
}

// System reads the host clocks.
type System struct{}

// NewSystem returns the host clock source.
func NewSystem() *System {
	return &System{}
}

// WallMillis returns time.Now as Unix milliseconds.
func (System) WallMillis() int64 {
	return time.Now().UnixMilli()
}

// UptimeMillis returns milliseconds since boot.
func (System) UptimeMillis() int64 {
	return uptimeMillis()
}

// Manual is a Source whose readings only change when told to. It is safe
// for concurrent use.
type Manual struct {
	mu     sync.RWMutex
	wall   int64
	uptime int64
}

// NewManual returns a Manual clock reading wall and uptime.
func NewManual(wall, uptime int64) *Manual {
	return &Manual{wall: wall, uptime: uptime}
}

func (m *Manual) WallMillis() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wall
}

func (m *Manual) UptimeMillis() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uptime
}

// Advance moves both clocks forward by d, as real time passing would.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.wall += d.Milliseconds()
	m.uptime += d.Milliseconds()
	m.mu.Unlock()
}

// SetWall steps the wall clock only, like a user changing the time.
func (m *Manual) SetWall(wall int64) {
	m.mu.Lock()
	m.wall = wall
	m.mu.Unlock()
}

// SetUptime sets the uptime clock only.
func (m *Manual) SetUptime(uptime int64) {
	m.mu.Lock()
	m.uptime = uptime
	m.mu.Unlock()
}

// Reboot resets the uptime clock to uptime and moves the wall clock forward
// by the time that elapsed while the host was down.
func (m *Manual) Reboot(downtime time.Duration, uptime int64) {
	m.mu.Lock()
	m.wall += downtime.Milliseconds()
	m.uptime = uptime
	m.mu.Unlock()
}

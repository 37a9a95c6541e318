// Package clock provides the pair of local clocks the offset cache reasons
// about.
//
// The wall clock is Unix time in milliseconds. Users and the system can step
// it at any moment. The uptime clock counts milliseconds since boot; nothing
// but a reboot moves it backwards. An offset measured against both clocks at
// once stays valid as long as only one of them misbehaves.
//
// Usage:
//
//	clk := clock.NewSystem()
//	wall, uptime := clk.WallMillis(), clk.UptimeMillis()
//
// Tests drive time explicitly with Manual:
//
//	clk := clock.NewManual(1_700_000_000_000, 60_000)
//	clk.Advance(250 * time.Millisecond)
package clock

package clock

import "time"

// processStart carries Go's monotonic reading, so time.Since(processStart)
// ignores wall clock steps. It only counts from process start; callers on
// platforms without a boot clock treat each process start as a boot.
var processStart = time.Now()

func fallbackUptimeMillis() int64 {
	return time.Since(processStart).Milliseconds()
}

package config

import (
	"path/filepath"
	"time"
)

// Config is the complete set of truetime settings.
type Config struct {
	// Servers are queried together; their median becomes the estimate.
	// Default: 0-3.pool.ntp.org
	Servers    []string
	Query      QueryConfig
	Validation ValidationConfig
	Resolve    ResolveConfig
	Cache      CacheConfig
	Watch      WatchConfig
	Sync       SyncConfig
	Metrics    MetricsConfig
}

// QueryConfig controls how exchanges are performed.
type QueryConfig struct {
	// Engine selects the SNTP implementation: "native" speaks the protocol
	// directly, "beevik" goes through github.com/beevik/ntp.
	// Default: native
	Engine string

	// Repeat is the number of exchanges per server address.
	// Default: 4
	Repeat int

	// Retries is how often a failed exchange is retried.
	// Default: 0
	Retries int

	// Timeout bounds one exchange.
	// Default: 30 seconds
	Timeout time.Duration

	// Port is the server UDP port.
	// Default: 123
	Port int

	// Concurrency caps exchanges in flight per fan-out, 0 for no cap.
	// Default: 0
	Concurrency int

	// Rate caps exchange starts per second, 0 for no cap.
	// Default: 0
	Rate float64
}

// ValidationConfig bounds what a server reply may claim.
type ValidationConfig struct {
	// Default: 100 milliseconds
	RootDelayMax time.Duration
	// Default: 100 milliseconds
	RootDispersionMax time.Duration
	// MaxResponseDelay bounds the measured round trip.
	// Default: 200 milliseconds
	MaxResponseDelay time.Duration
	// MaxElapsed bounds the wall time between request and processing.
	// Default: 10 seconds
	MaxElapsed time.Duration
}

// ResolveConfig controls address resolution.
type ResolveConfig struct {
	// Probe drops addresses that do not accept a TCP connection.
	// Default: true
	Probe bool
	// Default: 80
	ProbePort int
	// Default: 5 seconds
	ProbeTimeout time.Duration
}

// CacheConfig controls persistence of the offset sample.
type CacheConfig struct {
	// Enabled persists the sample across runs. When false the sample
	// lives only as long as the process.
	// Default: true
	Enabled bool
	// Default: $HOME/.go-truetime/offset.yaml
	Path string
}

// WatchConfig controls clock event detection.
type WatchConfig struct {
	// Default: 1 second
	Interval time.Duration
	// Threshold is the wall clock step that counts as a time change.
	// Default: 1 second
	Threshold time.Duration
	// Default: $HOME/.go-truetime/boot.yaml
	BootMarker string
}

// SyncConfig controls the background refresh.
type SyncConfig struct {
	// Default: 11 minutes
	Interval time.Duration
}

// MetricsConfig controls the Prometheus endpoint of the daemon.
type MetricsConfig struct {
	// Addr is the listen address, empty to disable.
	// Default: 127.0.0.1:9123
	Addr string
}

// Defaults returns the built-in settings.
func Defaults() Config {
	base := BuildBaseDirPath()
	return Config{
		Servers: []string{
			"0.pool.ntp.org",
			"1.pool.ntp.org",
			"2.pool.ntp.org",
			"3.pool.ntp.org",
		},
		Query: QueryConfig{
			Engine:  EngineNative,
			Repeat:  4,
			Timeout: 30 * time.Second,
			Port:    123,
		},
		Validation: ValidationConfig{
			RootDelayMax:      100 * time.Millisecond,
			RootDispersionMax: 100 * time.Millisecond,
			MaxResponseDelay:  200 * time.Millisecond,
			MaxElapsed:        10 * time.Second,
		},
		Resolve: ResolveConfig{
			Probe:        true,
			ProbePort:    80,
			ProbeTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(base, "offset.yaml"),
		},
		Watch: WatchConfig{
			Interval:   time.Second,
			Threshold:  time.Second,
			BootMarker: filepath.Join(base, "boot.yaml"),
		},
		Sync: SyncConfig{
			Interval: 11 * time.Minute,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9123",
		},
	}
}

// Query engines.
const (
	EngineNative = "native"
	EngineBeevik = "beevik"
)

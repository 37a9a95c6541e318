package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-i2p/go-truetime/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const BaseDirName = ".go-truetime"

// InitConfig sets defaults and reads the config file, creating the default
// one if needed.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildBaseDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	setDefaults()
	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("servers", d.Servers)

	viper.SetDefault("query.engine", d.Query.Engine)
	viper.SetDefault("query.repeat", d.Query.Repeat)
	viper.SetDefault("query.retries", d.Query.Retries)
	viper.SetDefault("query.timeout", d.Query.Timeout)
	viper.SetDefault("query.port", d.Query.Port)
	viper.SetDefault("query.concurrency", d.Query.Concurrency)
	viper.SetDefault("query.rate", d.Query.Rate)

	viper.SetDefault("validation.root_delay_max", d.Validation.RootDelayMax)
	viper.SetDefault("validation.root_dispersion_max", d.Validation.RootDispersionMax)
	viper.SetDefault("validation.max_response_delay", d.Validation.MaxResponseDelay)
	viper.SetDefault("validation.max_elapsed", d.Validation.MaxElapsed)

	viper.SetDefault("resolve.probe", d.Resolve.Probe)
	viper.SetDefault("resolve.probe_port", d.Resolve.ProbePort)
	viper.SetDefault("resolve.probe_timeout", d.Resolve.ProbeTimeout)

	viper.SetDefault("cache.enabled", d.Cache.Enabled)
	viper.SetDefault("cache.path", d.Cache.Path)

	viper.SetDefault("watch.interval", d.Watch.Interval)
	viper.SetDefault("watch.threshold", d.Watch.Threshold)
	viper.SetDefault("watch.boot_marker", d.Watch.BootMarker)

	viper.SetDefault("sync.interval", d.Sync.Interval)

	viper.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Current builds a Config from the viper settings in effect.
func Current() Config {
	return Config{
		Servers: viper.GetStringSlice("servers"),
		Query: QueryConfig{
			Engine:      viper.GetString("query.engine"),
			Repeat:      viper.GetInt("query.repeat"),
			Retries:     viper.GetInt("query.retries"),
			Timeout:     viper.GetDuration("query.timeout"),
			Port:        viper.GetInt("query.port"),
			Concurrency: viper.GetInt("query.concurrency"),
			Rate:        viper.GetFloat64("query.rate"),
		},
		Validation: ValidationConfig{
			RootDelayMax:      viper.GetDuration("validation.root_delay_max"),
			RootDispersionMax: viper.GetDuration("validation.root_dispersion_max"),
			MaxResponseDelay:  viper.GetDuration("validation.max_response_delay"),
			MaxElapsed:        viper.GetDuration("validation.max_elapsed"),
		},
		Resolve: ResolveConfig{
			Probe:        viper.GetBool("resolve.probe"),
			ProbePort:    viper.GetInt("resolve.probe_port"),
			ProbeTimeout: viper.GetDuration("resolve.probe_timeout"),
		},
		Cache: CacheConfig{
			Enabled: viper.GetBool("cache.enabled"),
			Path:    viper.GetString("cache.path"),
		},
		Watch: WatchConfig{
			Interval:   viper.GetDuration("watch.interval"),
			Threshold:  viper.GetDuration("watch.threshold"),
			BootMarker: viper.GetString("watch.boot_marker"),
		},
		Sync: SyncConfig{
			Interval: viper.GetDuration("sync.interval"),
		},
		Metrics: MetricsConfig{
			Addr: viper.GetString("metrics.addr"),
		},
	}
}

func createDefaultConfig(dir string) error {
	file := filepath.Join(dir, "config.yaml")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return oops.Wrapf(err, "create config directory %s", dir)
	}
	if err := viper.SafeWriteConfigAs(file); err != nil {
		return oops.Wrapf(err, "write default config %s", file)
	}
	log.WithField("path", file).Debug("created default configuration")
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.WithField("path", viper.ConfigFileUsed()).Debug("using config file")
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		if CfgFile != "" && errors.Is(err, os.ErrNotExist) {
			return oops.Wrapf(err, "config file %s not found", CfgFile)
		}
		return oops.Wrapf(err, "read config")
	}
	return createDefaultConfig(BuildBaseDirPath())
}

// BuildBaseDirPath returns $HOME/.go-truetime.
func BuildBaseDirPath() string {
	return filepath.Join(util.UserHome(), BaseDirName)
}

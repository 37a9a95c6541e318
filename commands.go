package main

import (
	"fmt"
	"time"

	"github.com/go-i2p/go-truetime/lib/clock"
	"github.com/go-i2p/go-truetime/lib/config"
	"github.com/go-i2p/go-truetime/lib/metrics"
	"github.com/go-i2p/go-truetime/lib/offset"
	"github.com/go-i2p/go-truetime/lib/resolve"
	"github.com/go-i2p/go-truetime/lib/sntp"
	"github.com/go-i2p/go-truetime/lib/store"
	"github.com/go-i2p/go-truetime/lib/truetime"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "truetime",
		Short:         "Network-authoritative time from SNTP servers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitConfig()
		},
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.go-truetime/config.yaml)")
	root.PersistentFlags().StringSlice("servers", nil, "servers to query")
	root.PersistentFlags().String("engine", "", "SNTP engine: native or beevik")
	root.PersistentFlags().Bool("no-cache", false, "keep the offset in memory only")
	_ = viper.BindPFlag("servers", root.PersistentFlags().Lookup("servers"))
	_ = viper.BindPFlag("query.engine", root.PersistentFlags().Lookup("engine"))

	root.AddCommand(
		newQueryCmd(),
		newSyncCmd(),
		newNowCmd(),
		newStatusCmd(),
		newDaemonCmd(),
		newWatchCmd(),
	)
	return root
}

// currentConfig applies command-line overrides that viper cannot bind
// directly.
func currentConfig(cmd *cobra.Command) config.Config {
	cfg := config.Current()
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		cfg.Cache.Enabled = false
	}
	return cfg
}

func newExchanger(cfg config.Config, clk clock.Source) (sntp.Exchanger, error) {
	opts := sntp.Options{
		Port:              cfg.Query.Port,
		Timeout:           cfg.Query.Timeout,
		RootDelayMax:      cfg.Validation.RootDelayMax,
		RootDispersionMax: cfg.Validation.RootDispersionMax,
		MaxResponseDelay:  cfg.Validation.MaxResponseDelay,
		MaxElapsed:        cfg.Validation.MaxElapsed,
	}
	switch cfg.Query.Engine {
	case config.EngineNative, "":
		return sntp.NewClient(opts, nil, clk), nil
	case config.EngineBeevik:
		return sntp.NewLibraryClient(&sntp.DefaultNTPClient{}, opts, clk), nil
	}
	return nil, oops.Errorf("unknown query engine %q", cfg.Query.Engine)
}

func newClient(cfg config.Config, m *metrics.Metrics) (*truetime.Client, error) {
	clk := clock.NewSystem()
	ex, err := newExchanger(cfg, clk)
	if err != nil {
		return nil, err
	}
	var st store.Store
	if cfg.Cache.Enabled {
		st = store.NewFile(cfg.Cache.Path)
	}
	var limiter *rate.Limiter
	if cfg.Query.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Query.Rate), 1)
	}
	return truetime.New(truetime.Options{
		Exchanger: ex,
		Clock:     clk,
		Store:     st,
		Resolver: &resolve.Resolver{
			ProbePort:    cfg.Resolve.ProbePort,
			ProbeTimeout: cfg.Resolve.ProbeTimeout,
			DisableProbe: !cfg.Resolve.Probe,
			Limit:        cfg.Query.Concurrency,
		},
		Metrics: m,
		Repeat:  cfg.Query.Repeat,
		Retries: cfg.Query.Retries,
		Limit:   cfg.Query.Concurrency,
		Limiter: limiter,
	}), nil
}

func printSample(cmd *cobra.Command, s offset.Sample, wall int64) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "offset:     %+d ms\n", s.SystemClockOffset)
	fmt.Fprintf(out, "round trip: %d ms\n", s.RoundTripDelay)
	fmt.Fprintf(out, "true time:  %s\n", formatMillis(s.TrueTime(wall)))
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query HOST",
		Short: "Run one exchange with a single server and cache the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(currentConfig(cmd), nil)
			if err != nil {
				return err
			}
			s, err := c.QueryHost(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSample(cmd, s, c.Clock().WallMillis())
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [HOST...]",
		Short: "Query several servers and cache their median offset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := currentConfig(cmd)
			c, err := newClient(cfg, nil)
			if err != nil {
				return err
			}
			hosts := args
			if len(hosts) == 0 {
				hosts = cfg.Servers
			}
			s, err := c.QueryServers(cmd.Context(), hosts...)
			if err != nil {
				return err
			}
			printSample(cmd, s, c.Clock().WallMillis())
			return nil
		},
	}
}

func newNowCmd() *cobra.Command {
	var millis bool
	cmd := &cobra.Command{
		Use:   "now",
		Short: "Print true time from the cached offset",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(currentConfig(cmd), nil)
			if err != nil {
				return err
			}
			ms, err := c.NowMillis()
			if err != nil {
				return oops.Wrapf(err, "no true time estimate, run `truetime sync` first")
			}
			if millis {
				fmt.Fprintln(cmd.OutOrStdout(), ms)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), formatMillis(ms))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&millis, "millis", false, "print Unix milliseconds")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached offset and where state is kept",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := currentConfig(cmd)
			c, err := newClient(cfg, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:     %s\n", viper.ConfigFileUsed())
			if cfg.Cache.Enabled {
				fmt.Fprintf(out, "cache:      %s\n", cfg.Cache.Path)
			} else {
				fmt.Fprintln(out, "cache:      memory only")
			}
			fmt.Fprintf(out, "servers:    %v\n", cfg.Servers)
			s, err := c.Sample()
			if err != nil {
				fmt.Fprintln(out, "sample:     none")
				return nil
			}
			printSample(cmd, s, c.Clock().WallMillis())
			return nil
		},
	}
}

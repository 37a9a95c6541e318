package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-i2p/go-truetime/lib/config"
	"github.com/go-i2p/go-truetime/lib/events"
	"github.com/go-i2p/go-truetime/lib/metrics"
	"github.com/go-i2p/go-truetime/lib/repair"
	"github.com/go-i2p/go-truetime/lib/truetime"
	"github.com/go-i2p/go-truetime/lib/tui"
	"github.com/go-i2p/go-truetime/lib/util"
	"github.com/go-i2p/go-truetime/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// clockServices wires the event watcher and the repairer to a client.
func clockServices(cfg config.Config, c *truetime.Client, m *metrics.Metrics) (*events.Dispatcher, *events.Watcher) {
	d := events.NewDispatcher()
	repair.New(c.Cache(), c.Clock(), m).Attach(d)
	w := events.NewWatcher(c.Clock(), d, events.WatcherOptions{
		Interval:   cfg.Watch.Interval,
		Threshold:  cfg.Watch.Threshold,
		MarkerPath: cfg.Watch.BootMarker,
	})
	return d, w
}

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Keep the cached offset fresh and repair it after clock events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := currentConfig(cmd)
			reg := prometheus.NewRegistry()
			m, err := metrics.New(reg)
			if err != nil {
				return err
			}
			c, err := newClient(cfg, m)
			if err != nil {
				return err
			}

			syncer := truetime.NewSyncer(c, truetime.SyncerOptions{
				Servers:  cfg.Servers,
				Interval: cfg.Sync.Interval,
			})
			ctx, stop := signals.Notify(cmd.Context(), syncer.SyncNow)
			defer stop()

			_, watcher := clockServices(cfg, c, m)
			defer util.CloseAll()
			if cfg.Metrics.Addr != "" {
				serveMetrics(cfg.Metrics.Addr, reg)
			}

			log.WithFields(logger.Fields{
				"at":      "daemon",
				"servers": cfg.Servers,
				"metrics": cfg.Metrics.Addr,
			}).Info("truetime daemon starting")

			syncer.Start(ctx)
			defer syncer.Stop()
			return watcher.Run(ctx)
		},
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	util.RegisterCloser(srv)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("addr", addr).Error("metrics endpoint failed")
		}
	}()
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live view of true time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := currentConfig(cmd)
			c, err := newClient(cfg, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			d, watcher := clockServices(cfg, c, nil)
			kinds := make(chan events.Kind, 8)
			d.Register(func(k events.Kind) {
				select {
				case kinds <- k:
				default:
				}
			})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return watcher.Run(ctx) })
			g.Go(func() error {
				defer cancel()
				return tui.Run(ctx, c, cfg.Servers, kinds)
			})
			return g.Wait()
		},
	}
}

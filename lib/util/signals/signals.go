// Package signals turns process signals into daemon actions: stop
// signals cancel a context and the reload signal runs a callback.
package signals

import (
	"context"
	"os"
	"os/signal"

	"github.com/go-i2p/logger"
)

// Handler runs on a reload signal.
type Handler func()

// Notify returns a context that is cancelled on the first stop signal or
// when parent ends. Until then, every reload signal calls onReload, which
// may be nil. The returned cancel function releases the signal handlers.
func Notify(parent context.Context, onReload Handler) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, append(stopSignals, reloadSignals...)...)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				if isReload(sig) {
					runReload(onReload)
					continue
				}
				log.WithFields(logger.Fields{
					"at":     "signals.Notify",
					"signal": sig.String(),
				}).Info("stop signal received")
				cancel()
				return
			}
		}
	}()
	return ctx, cancel
}

func isReload(sig os.Signal) bool {
	for _, r := range reloadSignals {
		if sig == r {
			return true
		}
	}
	return false
}

func runReload(h Handler) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"at":     "signals.runReload",
				"reason": "handler_panic",
				"panic":  r,
			}).Error("reload handler panicked")
		}
	}()
	h()
}

// Package events delivers host clock events (a completed boot, a wall
// clock change) to registered handlers.
package events

import (
	"sync"

	"github.com/go-i2p/logger"
)

// Kind identifies a clock event. Events carry no payload.
type Kind int

const (
	// BootCompleted means the uptime clock restarted from zero.
	BootCompleted Kind = iota + 1
	// TimeChanged means the wall clock was set independently of uptime.
	TimeChanged
)

func (k Kind) String() string {
	switch k {
	case BootCompleted:
		return "boot_completed"
	case TimeChanged:
		return "time_changed"
	}
	return "unknown"
}

// Handler is called once per dispatched event.
type Handler func(Kind)

// HandlerID identifies a registration, for Deregister.
type HandlerID int

type registered struct {
	id HandlerID
	fn Handler
}

// Dispatcher fans events out to handlers. The zero value is ready to use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []registered
	nextID   HandlerID
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds fn and returns its id. A nil fn is ignored and -1 returned.
func (d *Dispatcher) Register(fn Handler) HandlerID {
	if fn == nil {
		return -1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.handlers = append(d.handlers, registered{id: id, fn: fn})
	return id
}

// Deregister removes the handler registered under id.
func (d *Dispatcher) Deregister(id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, h := range d.handlers {
		if h.id == id {
			d.handlers = append(d.handlers[:i], d.handlers[i+1:]...)
			return
		}
	}
}

// Dispatch calls every handler registered at the time of the call, in
// registration order. A panicking handler is logged and does not stop the
// others.
func (d *Dispatcher) Dispatch(kind Kind) {
	d.mu.RLock()
	snapshot := make([]registered, len(d.handlers))
	copy(snapshot, d.handlers)
	d.mu.RUnlock()

	log.WithFields(logger.Fields{
		"at":       "events.Dispatcher.Dispatch",
		"kind":     kind.String(),
		"handlers": len(snapshot),
	}).Debug("dispatching clock event")

	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":      "events.Dispatcher.Dispatch",
						"reason":  "handler_panic",
						"kind":    kind.String(),
						"handler": int(h.id),
						"panic":   r,
					}).Error("clock event handler panicked")
				}
			}()
			h.fn(kind)
		}()
	}
}

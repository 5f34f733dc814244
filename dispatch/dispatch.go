// Package dispatch delivers engine events and exposure notifications to
// host callbacks, on the UI goroutine.
package dispatch

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/benoitkugler/okrender/logging"
)

// Event names emitted by the engines.
const (
	ParseEnd         = "parseEnd"
	TextOverflow     = "textOverflow"
	DrawStart        = "drawStart"
	DrawEnd          = "drawEnd"
	AnimationStep    = "animationStep"
	LinkClicked      = "linkClicked"
	ImageClicked     = "imageClicked"
	SelectionChanged = "selectionChanged"
)

// Exposure names.
const (
	LinkAppear     = "linkAppear"
	LinkDisappear  = "linkDisappear"
	ImageAppear    = "imageAppear"
	ImageDisappear = "imageDisappear"
)

// Event is a named notification with an engine defined payload.
type Event struct {
	Name   string
	Detail map[string]any
}

// Handler is a host callback.
type Handler func(ev Event)

// Dispatcher holds one handler slot per event name, and a separate set
// of slots for exposure notifications.
type Dispatcher struct {
	queue *Queue
	log   *slog.Logger

	mu       sync.Mutex
	events   map[string]Handler
	exposure map[string]Handler
	closed   bool
}

// New returns a dispatcher posting its deliveries on queue.
func New(queue *Queue, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = logging.For("dispatch")
	}
	return &Dispatcher{
		queue:    queue,
		log:      log,
		events:   map[string]Handler{},
		exposure: map[string]Handler{},
	}
}

// Bind replaces the handler of the event name; a nil handler clears it.
func (d *Dispatcher) Bind(name string, h Handler) { d.bind(d.events, name, h) }

// BindExposure replaces the handler of the exposure name; a nil handler clears it.
func (d *Dispatcher) BindExposure(name string, h Handler) { d.bind(d.exposure, name, h) }

func (d *Dispatcher) bind(slots map[string]Handler, name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if h == nil {
		delete(slots, name)
		return
	}
	slots[name] = h
}

// Bound returns true if a handler is bound to the event name.
func (d *Dispatcher) Bound(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.events[name]
	return ok
}

// HasExposure returns true if at least one exposure handler is bound.
// Engines skip visibility tracking otherwise.
func (d *Dispatcher) HasExposure() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.exposure) != 0
}

// Names returns the sorted names of the bound events.
func (d *Dispatcher) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Sorted(maps.Keys(d.events))
}

// Fire schedules the delivery of ev to the handler bound to its name.
// Events with no handler are dropped.
func (d *Dispatcher) Fire(ev Event) { d.fire(d.events, ev) }

// FireExposure is the same as [Dispatcher.Fire] for exposure notifications.
func (d *Dispatcher) FireExposure(ev Event) { d.fire(d.exposure, ev) }

func (d *Dispatcher) fire(slots map[string]Handler, ev Event) {
	if _, ok := d.lookup(slots, ev.Name); !ok {
		return
	}
	d.queue.Post(func() {
		// the binding may have changed since the event was fired
		h, ok := d.lookup(slots, ev.Name)
		if !ok {
			d.log.Debug("event dropped", "name", ev.Name)
			return
		}
		h(ev)
	})
}

func (d *Dispatcher) lookup(slots map[string]Handler, name string) (Handler, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, false
	}
	h, ok := slots[name]
	return h, ok
}

// Close clears every binding. Pending deliveries are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	clear(d.events)
	clear(d.exposure)
}

// Package eventbus implements the bounded in-process publish/subscribe
// bus (EB) of spec.md §4.4: a single dispatcher goroutine, per-kind
// subscriber registries, and a mandatory-event overflow path so a
// quarantine or service-failure event is not dropped when the bounded
// queue is full (it is dropped, with a log line, only if the overflow
// list is full as well). Grounded on
// original_source/daemon/orchestrator/src/orchestrator.cpp's
// eventLoop/postEvent/routeEvent, replacing its polling queue+mutex
// with Go channels and a recover()-wrapped dispatch per subscriber.
package eventbus

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// Subscriber receives events of the kinds it registered for.
type Subscriber func(clara.Event)

// Bus is the event dispatcher. Publish never blocks the caller beyond
// enqueueing; dispatch to subscribers happens on the Bus's own
// goroutine, started by Run.
type Bus struct {
	queueSize int
	queue     chan clara.Event
	overflow  chan clara.Event

	mu   sync.RWMutex
	subs map[clara.EventKind][]Subscriber
	all  []Subscriber

	nextID atomic.Uint64

	stop chan struct{}
	done chan struct{}
}

// NewBus builds a bus with a bounded queue of queueSize events. The
// overflow channel for MandatoryKinds is sized generously (4x) since
// it must never silently drop a quarantine/service-error event.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Bus{
		queueSize: queueSize,
		queue:     make(chan clara.Event, queueSize),
		overflow:  make(chan clara.Event, queueSize*4),
		subs:      make(map[clara.EventKind][]Subscriber),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Subscribe registers fn for every kind listed. An empty kinds list
// subscribes to all events.
func (b *Bus) Subscribe(fn Subscriber, kinds ...clara.EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(kinds) == 0 {
		b.all = append(b.all, fn)
		return
	}
	for _, k := range kinds {
		b.subs[k] = append(b.subs[k], fn)
	}
}

// Publish enqueues ev, assigning it the bus's next id and, if unset, a
// timestamp. Mandatory kinds (spec.md §4.4) go to the overflow path
// when the main queue is full instead of being dropped.
func (b *Bus) Publish(ev clara.Event) {
	ev.ID = b.nextID.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case b.queue <- ev:
		return
	default:
	}

	if clara.MandatoryKinds[ev.Kind] {
		select {
		case b.overflow <- ev:
		default:
			log.Printf("[eventbus] overflow full, mandatory event %s for %s dropped", ev.Kind, ev.Target)
		}
		return
	}

	log.Printf("[eventbus] queue full, dropping event %s for %s", ev.Kind, ev.Target)
}

// Run starts the dispatcher goroutine. It returns immediately; call
// Stop to shut the dispatcher down and wait for it to drain.
func (b *Bus) Run() {
	go b.loop()
}

func (b *Bus) loop() {
	defer close(b.done)
	for {
		select {
		case ev := <-b.overflow:
			b.dispatch(ev)
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.stop:
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case ev := <-b.overflow:
			b.dispatch(ev)
		case ev := <-b.queue:
			b.dispatch(ev)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ev clara.Event) {
	b.mu.RLock()
	subs := append([]Subscriber{}, b.subs[ev.Kind]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.callSafely(sub, ev)
	}
}

// callSafely recovers a panicking subscriber so one bad callback can
// never take down the dispatcher goroutine, matching original_source's
// try/catch around each subscriber in routeEvent.
func (b *Bus) callSafely(sub Subscriber, ev clara.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[eventbus] subscriber panicked handling %s: %v", ev.Kind, r)
		}
	}()
	sub(ev)
}

// Stop signals the dispatcher to drain pending events and exit, then
// blocks until it has.
func (b *Bus) Stop() {
	close(b.stop)
	<-b.done
}

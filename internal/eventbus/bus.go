// Package eventbus is the in-process signal fabric between warden's
// components: restart invocations publish their outcome, health probes
// publish up/down transitions, and the scheduler publishes task lifecycle —
// all without the publishers knowing who listens. Payload types are defined
// in events.go.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// defaultBuffer is the subscriber channel capacity used when a caller asks
// for zero or less.
const defaultBuffer = 8

// Event is one signal on the bus. Data holds the typed payload for Type
// (see events.go); keep it small and JSON-serializable so audit sinks can
// persist it as-is.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that falls behind its buffer loses events rather than stalling a restart
// pass or a probe tick.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns the in-memory bus. It owns no goroutines; delivery happens on
// the publisher's stack.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next atomic.Uint64
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Send against a snapshot so a slow subscriber never holds the lock.
	f.mu.RLock()
	targets := make([]chan Event, 0, len(f.subs))
	for _, ch := range f.subs {
		targets = append(targets, ch)
	}
	f.mu.RUnlock()

	for _, ch := range targets {
		trySend(ch, e)
	}
}

// trySend delivers without blocking. A concurrent unsubscribe may have
// closed ch already; the recover absorbs that send panic.
func trySend(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	id := f.next.Add(1)

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

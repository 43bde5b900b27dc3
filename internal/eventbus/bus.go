// Package eventbus is a small in-memory pub/sub used to decouple the dispatch
// engine from its observers (metrics, logs).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one signal on the bus. Data is a small value owned by the
// publisher; subscribers must not mutate it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to buffered subscriber channels. Publish never blocks:
// a full subscriber misses the event and it is counted in Dropped.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

const defaultBuffer = 8

func New() Bus {
	return &memBus{subs: make(map[*subscriber]struct{})}
}

type subscriber struct {
	ch chan Event
}

type memBus struct {
	// mu is read-held during fanout so unsubscribe cannot close a channel
	// mid-send.
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

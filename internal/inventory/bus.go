// Package inventory turns a resolved spool into delete and record-usage
// actions and tells open list views when the inventory has changed.
package inventory

import "sync"

// Bus broadcasts payload-free "inventory changed" signals. Publishing never
// blocks; a subscriber that has not yet consumed the previous signal simply
// sees one signal for several changes. The zero value is ready to use.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan struct{})}
}

// Subscribe returns a signal channel and a function that unsubscribes and
// closes it.
func (b *Bus) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan struct{})
	}
	id := b.next
	b.next++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish signals every subscriber.
func (b *Bus) Publish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

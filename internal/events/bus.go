/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// Subscriber receives events.
type Subscriber chan Event

const subscriberBuffer = 64

// Bus implements a simple in-process pubsub. A nil *Bus discards everything.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]Subscriber
	all  []Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]Subscriber)}
}

// Subscribe registers a subscriber for the given kinds, or for every kind
// when none are given.
func (b *Bus) Subscribe(kinds ...Kind) Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	if len(kinds) == 0 {
		b.all = append(b.all, ch)
	}
	for _, kind := range kinds {
		b.subs[kind] = append(b.subs[kind], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends the event to subscribers without blocking; full subscribers
// miss it.
func (b *Bus) Publish(ev Event) {
	if b == nil || ev == nil {
		return
	}
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[ev.Kind()] {
		select {
		case sub <- ev:
		default:
		}
	}
	for _, sub := range b.all {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Unsubscribe removes the subscriber from every kind and closes it.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	found := false
	for kind, subs := range b.subs {
		filtered := subs[:0]
		for _, candidate := range subs {
			if candidate == sub {
				found = true
				continue
			}
			filtered = append(filtered, candidate)
		}
		b.subs[kind] = filtered
	}
	filtered := b.all[:0]
	for _, candidate := range b.all {
		if candidate == sub {
			found = true
			continue
		}
		filtered = append(filtered, candidate)
	}
	b.all = filtered
	if found {
		close(sub)
	}
}

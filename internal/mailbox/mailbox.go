// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mailbox provides the unbounded FIFO queue actors use to receive
// events without ever blocking the sender.
package mailbox

import (
	"sync"

	"github.com/juju/collections/deque"
)

// Mailbox is an unbounded, multi-producer single-consumer FIFO queue.
// Items posted by one goroutine are received in the order they were posted.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  *deque.Deque
	notify chan struct{}
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		items:  deque.New(),
		notify: make(chan struct{}, 1),
	}
}

// Post appends an item. It never blocks.
func (m *Mailbox[T]) Post(item T) {
	m.mu.Lock()
	m.items.PushBack(item)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives a value whenever items may be
// waiting. The consumer should Drain after every receive.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.notify
}

// Drain removes and returns every queued item in FIFO order.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []T
	for {
		item, ok := m.items.PopFront()
		if !ok {
			return items
		}
		items = append(items, item.(T))
	}
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Len()
}

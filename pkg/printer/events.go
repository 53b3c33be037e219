// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printer

import "sync"

// Notifier fans a "state changed" event out to registered observers.
// The zero value is ready to use.
type Notifier struct {
	mu        sync.Mutex
	nextID    int
	observers map[int]func(Snapshot)
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (n *Notifier) Subscribe(fn func(Snapshot)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.observers == nil {
		n.observers = make(map[int]func(Snapshot))
	}
	id := n.nextID
	n.nextID++
	n.observers[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.observers, id)
	}
}

// Notify calls every observer with snap, in subscription order. Observers
// run on the caller's goroutine and must not block.
func (n *Notifier) Notify(snap Snapshot) {
	n.mu.Lock()
	fns := make([]func(Snapshot), 0, len(n.observers))
	for id := 0; id < n.nextID; id++ {
		if fn, ok := n.observers[id]; ok {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Len returns the number of registered observers
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.observers)
}

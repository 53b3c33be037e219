// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printer

import (
	"context"
	"fmt"
	"sync"
)

// Factory builds a fresh, unconnected Printer.
type Factory func() (Printer, error)

// Entry is one configured printer known to a Manager.
type Entry struct {
	Name string
	New  Factory
}

// Manager owns the currently selected printer. Switching printers
// disconnects and drops the old instance before the new one is built, so
// state never leaks from one printer to the next.
type Manager struct {
	mu      sync.Mutex
	entries []Entry
	index   int
	active  Printer
}

// NewManager creates a manager over the configured printers. No printer is
// active until Switch is called.
func NewManager(entries []Entry) *Manager {
	return &Manager{entries: entries, index: -1}
}

// Entries returns the configured printers
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Active returns the selected printer and its index, or ErrNoPrinter.
func (m *Manager) Active() (Printer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, -1, ErrNoPrinter
	}
	return m.active, m.index, nil
}

// Switch makes the printer at index active and connects it. The previous
// printer is disconnected first. A failed connect leaves the new printer
// selected (in the Offline state) so the caller can retry Connect.
func (m *Manager) Switch(ctx context.Context, index int) (Printer, error) {
	m.mu.Lock()
	if index < 0 || index >= len(m.entries) {
		m.mu.Unlock()
		return nil, fmt.Errorf("printer index %d out of range (have %d)", index, len(m.entries))
	}
	old := m.active
	m.active = nil
	m.index = -1
	entry := m.entries[index]
	m.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	p, err := entry.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create printer %q: %w", entry.Name, err)
	}

	m.mu.Lock()
	m.active = p
	m.index = index
	m.mu.Unlock()

	if err := p.Connect(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// Close disconnects the active printer, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	p := m.active
	m.active = nil
	m.index = -1
	m.mu.Unlock()

	if p != nil {
		p.Disconnect()
	}
}

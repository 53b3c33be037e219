// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printer

import "testing"

func TestNotifier(t *testing.T) {
	var n Notifier
	var order []string

	cancelA := n.Subscribe(func(s Snapshot) { order = append(order, "a") })
	n.Subscribe(func(s Snapshot) { order = append(order, "b") })
	if n.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", n.Len())
	}

	n.Notify(NewSnapshot())
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}

	cancelA()
	cancelA()
	order = nil
	n.Notify(NewSnapshot())
	if len(order) != 1 || order[0] != "b" {
		t.Errorf("order after cancel = %v, want [b]", order)
	}
}

func TestNotifierObserverMaySubscribe(t *testing.T) {
	var n Notifier
	calls := 0
	n.Subscribe(func(Snapshot) {
		calls++
		n.Subscribe(func(Snapshot) {})
	})
	n.Notify(NewSnapshot())
	if calls != 1 || n.Len() != 2 {
		t.Errorf("calls = %d, Len() = %d", calls, n.Len())
	}
}

// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package detector

import (
	"runtime"
	"sync"
	"weak"

	"golang.org/x/net/html"

	"github.com/juju/mediabroker/core/resource"
)

// Marker records what the detector knows about one element.
type Marker struct {
	// Tracked is set once the element has been registered with the broker.
	Tracked bool

	// ResourceID is the identifier the element was registered under.
	ResourceID resource.ID

	// Applied is set when a result has been written to the element and
	// the viewer asked to load it.
	Applied bool

	// Resolved is set when the viewer has finished loading the applied
	// content, or the worker reported a failure.
	Resolved bool

	// Failed is set when the worker could not produce the resource.
	Failed bool
}

// awaiting reports whether the element still waits for a result.
func (m *Marker) awaiting() bool {
	return m.Tracked && !m.Applied && !m.Resolved
}

// unresolved reports whether the element is tracked and its content has
// not finished loading yet.
func (m *Marker) unresolved() bool {
	return m.Tracked && !m.Resolved
}

// markerTable associates markers with elements without keeping the
// elements alive. An entry goes away once its element is collected.
type markerTable struct {
	mu      sync.Mutex
	entries map[weak.Pointer[html.Node]]*Marker
}

func newMarkerTable() *markerTable {
	return &markerTable{
		entries: make(map[weak.Pointer[html.Node]]*Marker),
	}
}

// get returns the marker of n, if it has one.
func (t *markerTable) get(n *html.Node) (*Marker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[weak.Make(n)]
	return m, ok
}

// mark returns the marker of n, creating it if needed.
func (t *markerTable) mark(n *html.Node) *Marker {
	key := weak.Make(n)

	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.entries[key]; ok {
		return m
	}
	m := &Marker{}
	t.entries[key] = m
	runtime.AddCleanup(n, t.forget, key)
	return m
}

func (t *markerTable) forget(key weak.Pointer[html.Node]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

func (t *markerTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

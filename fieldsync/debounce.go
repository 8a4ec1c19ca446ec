// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid successive writes per key into a single flush.
// The last function registered for a key wins; it runs once the window
// elapses without another trigger for that key.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	timers map[string]*time.Timer
	fns    map[string]func()
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		timers: make(map[string]*time.Timer),
		fns:    make(map[string]func()),
	}
}

// Trigger schedules fn for the key, replacing any pending one and restarting
// the window.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fns[key] = fn
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		// Stop can lose the race with an already-fired timer. A superseded
		// timer must not run the replacement before its own window elapses.
		if d.timers[key] != t {
			d.mu.Unlock()
			return
		}
		pending := d.fns[key]
		delete(d.fns, key)
		delete(d.timers, key)
		d.mu.Unlock()
		if pending != nil {
			pending()
		}
	})
	d.timers[key] = t
}

// Flush runs every pending function immediately. Called on teardown so no
// buffered edit is lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	pending := make([]func(), 0, len(d.fns))
	for key, fn := range d.fns {
		if t, ok := d.timers[key]; ok {
			t.Stop()
		}
		pending = append(pending, fn)
		delete(d.fns, key)
		delete(d.timers, key)
	}
	d.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

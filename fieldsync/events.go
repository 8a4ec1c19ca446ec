// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"sync"
	"time"
)

// EventKind identifies what happened.
type EventKind string

const (
	EventSyncStarted       EventKind = "sync_started"
	EventSyncCompleted     EventKind = "sync_completed"
	EventEntitySyncFailed  EventKind = "entity_sync_failed"
	EventMutationRejected  EventKind = "mutation_rejected"
	EventAttachmentSynced  EventKind = "attachment_synced"
	EventAttachmentFailed  EventKind = "attachment_failed"
	EventConnectivity      EventKind = "connectivity_changed"
)

// Event is one engine notification. Listeners are best-effort: a slow
// subscriber loses events rather than blocking the engine.
type Event struct {
	Kind    EventKind
	Entity  string
	ID      string
	Message string
	Err     error
	Online  bool
	Time    time.Time
}

// Events is a typed fan-out channel with explicit unsubscribe.
type Events struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewEvents creates an event stream.
func NewEvents() *Events {
	return &Events{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given channel buffer. The returned
// function unsubscribes and closes the channel.
func (e *Events) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Emit delivers the event to all subscribers without blocking; a full
// subscriber buffer drops the event for that subscriber.
func (e *Events) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

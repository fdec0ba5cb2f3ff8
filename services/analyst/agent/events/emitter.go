// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that processes events.
type Handler func(event *Event)

// Filter is a function that determines if an event should be handled.
type Filter func(event *Event) bool

// Subscription represents a subscription to events.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	// Handler processes matching events.
	Handler Handler

	// Filter determines which events to handle (nil = all events).
	Filter Filter

	// Types limits which event types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts events to subscribers.
//
// Description:
//
//	Delivery is synchronous and in emission order, which preserves the
//	ordering contract for user-visible events (visualization before
//	narrative, narrative chunks in stream order). Handler panics are
//	recovered so one misbehaving subscriber cannot break the loop.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	buffer        []Event
	bufferSize    int
	taskID        string
	attempt       int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the event buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		e.bufferSize = size
	}
}

// WithTaskID sets the task ID attached to all events.
func WithTaskID(id string) EmitterOption {
	return func(e *Emitter) {
		e.taskID = id
	}
}

// NewEmitter creates a new event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function to call for each event.
//	types - Event types to subscribe to (nil = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	return e.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter registers a handler with a custom filter.
func (e *Emitter) SubscribeWithFilter(handler Handler, filter Filter, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
		Filter:  filter,
		Types:   types,
	}
	e.subscriptions[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription.
//
// Outputs:
//
//	bool - True if the subscription was found and removed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; ok {
		delete(e.subscriptions, id)
		return true
	}
	return false
}

// Emit broadcasts an event to all matching subscribers.
//
// Inputs:
//
//	eventType - The type of event.
//	data - Event-specific data (use the typed structs from types.go).
func (e *Emitter) Emit(eventType Type, data any) {
	e.mu.RLock()
	taskID := e.taskID
	attempt := e.attempt
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.RUnlock()

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TaskID:    taskID,
		Timestamp: time.Now().UnixMilli(),
		Attempt:   attempt,
		Data:      data,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	e.mu.Unlock()

	for _, sub := range subs {
		if e.shouldHandle(sub, &event) {
			e.safeInvokeHandler(sub.Handler, &event)
		}
	}
}

// safeInvokeHandler invokes a handler with panic recovery.
func (e *Emitter) safeInvokeHandler(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

// shouldHandle determines if a subscription should handle an event.
func (e *Emitter) shouldHandle(sub *Subscription, event *Event) bool {
	if len(sub.Types) > 0 {
		typeMatch := false
		for _, t := range sub.Types {
			if t == event.Type {
				typeMatch = true
				break
			}
		}
		if !typeMatch {
			return false
		}
	}

	if sub.Filter != nil && !sub.Filter(event) {
		return false
	}
	return true
}

// SetTaskID updates the task ID for future events.
func (e *Emitter) SetTaskID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.taskID = id
}

// SetAttempt updates the attempt counter attached to future events.
func (e *Emitter) SetAttempt(attempt int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempt = attempt
}

// GetBuffer returns a copy of buffered events.
func (e *Emitter) GetBuffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	events := make([]Event, len(e.buffer))
	copy(events, e.buffer)
	return events
}

// GetBufferByType returns buffered events of a specific type.
func (e *Emitter) GetBufferByType(eventType Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []Event
	for _, event := range e.buffer {
		if event.Type == eventType {
			events = append(events, event)
		}
	}
	return events
}

// ClearBuffer removes all buffered events.
func (e *Emitter) ClearBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = make([]Event, 0, e.bufferSize)
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}

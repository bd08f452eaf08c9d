// Package events provides the listener table shared by every observable
// object in the runtime (adapters, namespaces, transports, decoders).
package events

import (
	"reflect"
	"sync"
)

type EventName = string

type Listener = func(...any)

type EventEmitter interface {
	On(EventName, Listener)
	Once(EventName, Listener)
	RemoveListener(EventName, Listener) bool
	RemoveAllListeners(EventName)
	Emit(EventName, ...any)
	Listeners(EventName) []Listener
	ListenerCount(EventName) int
	Clear()
}

type emitter struct {
	mu        sync.RWMutex
	listeners map[EventName][]*wrapped
}

type wrapped struct {
	listener Listener
	once     bool
}

func New() EventEmitter {
	return &emitter{listeners: map[EventName][]*wrapped{}}
}

func (e *emitter) On(ev EventName, listener Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners[ev] = append(e.listeners[ev], &wrapped{listener: listener})
}

func (e *emitter) Once(ev EventName, listener Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners[ev] = append(e.listeners[ev], &wrapped{listener: listener, once: true})
}

// RemoveListener removes the first registration of listener, matched by
// function pointer. Reports whether a listener was removed.
func (e *emitter) RemoveListener(ev EventName, listener Listener) bool {
	if listener == nil {
		return false
	}
	ptr := reflect.ValueOf(listener).Pointer()

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, w := range e.listeners[ev] {
		if reflect.ValueOf(w.listener).Pointer() == ptr {
			e.listeners[ev] = append(e.listeners[ev][:i], e.listeners[ev][i+1:]...)
			if len(e.listeners[ev]) == 0 {
				delete(e.listeners, ev)
			}
			return true
		}
	}
	return false
}

func (e *emitter) RemoveAllListeners(ev EventName) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.listeners, ev)
}

func (e *emitter) Emit(ev EventName, args ...any) {
	e.mu.Lock()
	ws := append([]*wrapped{}, e.listeners[ev]...)
	remaining := e.listeners[ev][:0:0]
	for _, w := range e.listeners[ev] {
		if !w.once {
			remaining = append(remaining, w)
		}
	}
	if len(remaining) == 0 {
		delete(e.listeners, ev)
	} else {
		e.listeners[ev] = remaining
	}
	e.mu.Unlock()

	for _, w := range ws {
		w.listener(args...)
	}
}

func (e *emitter) Listeners(ev EventName) []Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()

	listeners := make([]Listener, 0, len(e.listeners[ev]))
	for _, w := range e.listeners[ev] {
		listeners = append(listeners, w.listener)
	}
	return listeners
}

func (e *emitter) ListenerCount(ev EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.listeners[ev])
}

func (e *emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	clear(e.listeners)
}

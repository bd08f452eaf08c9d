package socket

import "github.com/evsio/evsio/events"

// StrictEventEmitter separates the reserved lifecycle events fired by the
// runtime from the user events dispatched off the wire. Reserved events
// go through EmitReserved; decoded user events through EmitUntyped.
type StrictEventEmitter struct {
	events.EventEmitter
}

func NewStrictEventEmitter() *StrictEventEmitter {
	return &StrictEventEmitter{EventEmitter: events.New()}
}

func (s *StrictEventEmitter) EmitReserved(ev string, args ...any) {
	s.EventEmitter.Emit(ev, args...)
}

func (s *StrictEventEmitter) EmitUntyped(ev string, args ...any) {
	s.EventEmitter.Emit(ev, args...)
}

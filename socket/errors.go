package socket

import "errors"

var (
	// ErrAckTimeout resolves an acknowledgement whose deadline passed
	// before every expected response arrived.
	ErrAckTimeout = errors.New("operation has timed out")

	// ErrSocketDisconnected resolves the acknowledgements still pending
	// when a session goes away.
	ErrSocketDisconnected = errors.New("socket has been disconnected")
)

// ExtendedError is a connection refusal carrying structured details,
// serialized into the CONNECT_ERROR payload.
type ExtendedError struct {
	message string
	data    any
}

func NewExtendedError(message string, data any) *ExtendedError {
	return &ExtendedError{message: message, data: data}
}

func (e *ExtendedError) Error() string {
	return e.message
}

func (e *ExtendedError) Data() any {
	return e.data
}

package engine

import "errors"

var (
	ErrInvalidPacketType = errors.New("invalid packet type")
	ErrInvalidPacketData = errors.New("invalid packet data")
)

// handshake error codes, mirrored in the JSON error body
const (
	errUnknownTransport = iota
	errUnknownSid
	errBadHandshakeMethod
	errBadRequest
	errForbidden
	errUnsupportedProtocolVersion
)

var errorMessages = map[int]string{
	errUnknownTransport:           "Transport unknown",
	errUnknownSid:                 "Session ID unknown",
	errBadHandshakeMethod:         "Bad handshake method",
	errBadRequest:                 "Bad request",
	errForbidden:                  "Forbidden",
	errUnsupportedProtocolVersion: "Unsupported protocol version",
}

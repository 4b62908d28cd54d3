package protocol

import "errors"

// Domain errors for the protocol package.
var (
	// ErrInvalidMessage is returned when a frame cannot be decoded.
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrInvalidIdentity is returned when an identity response is malformed.
	ErrInvalidIdentity = errors.New("protocol: invalid identity response")

	// ErrInvalidCapabilities is returned when a capability response cannot
	// be parsed.
	ErrInvalidCapabilities = errors.New("protocol: invalid capability response")
)

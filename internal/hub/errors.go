package hub

import "errors"

var (
	// ErrNotConnected indicates the operation needs an established
	// session.
	ErrNotConnected = errors.New("hub: not connected")

	// ErrConnectAborted indicates Disconnect voided the connection
	// attempt before it completed.
	ErrConnectAborted = errors.New("hub: connect aborted")

	// ErrAlreadyConnected indicates Connect was called on a live
	// session.
	ErrAlreadyConnected = errors.New("hub: already connected")

	// ErrIncompatible indicates negotiation found the hub unable to run
	// what this client produces. Raised before any program bytes move.
	ErrIncompatible = errors.New("hub: incompatible hub")

	// ErrProgramTooBig indicates the encoded program exceeds the hub's
	// declared storage limit.
	ErrProgramTooBig = errors.New("hub: program exceeds hub storage")

	// ErrProgramStart indicates the hub never reported the program
	// running after a start command.
	ErrProgramStart = errors.New("hub: program did not start")
)

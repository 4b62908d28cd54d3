package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrTimeout is returned when a request/response exchange exceeds the
	// fixed bound. The connection is not torn down by the timeout itself;
	// the caller decides whether to disconnect.
	ErrTimeout = errors.New("transport: response timeout")

	// ErrDisconnected is returned for any wait that was pending when the
	// connection left the connected state, and for operations attempted
	// after it.
	ErrDisconnected = errors.New("transport: disconnected")

	// ErrWriteFailed is returned when the underlying channel rejects an
	// outbound write.
	ErrWriteFailed = errors.New("transport: write failed")
)

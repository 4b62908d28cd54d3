package bundle

import "errors"

// Domain errors for the bundle package.
var (
	// ErrNoMainModule is returned when no entry carries the main module
	// marker.
	ErrNoMainModule = errors.New("bundle: missing main module entry")

	// ErrDuplicateMainModule is returned when more than one entry carries
	// the main module marker.
	ErrDuplicateMainModule = errors.New("bundle: duplicate main module entry")

	// ErrInvalidName is returned when an entry name is empty or contains
	// a NUL byte.
	ErrInvalidName = errors.New("bundle: invalid entry name")

	// ErrMalformed is returned when encoded bytes cannot be decoded.
	ErrMalformed = errors.New("bundle: malformed data")
)

package bluezdev

import "errors"

var (
	// ErrBlueZUnavailable indicates org.bluez is not on the system bus.
	ErrBlueZUnavailable = errors.New("bluezdev: org.bluez not available on system bus")

	// ErrDeviceNotFound indicates no matching device was discovered
	// before the deadline.
	ErrDeviceNotFound = errors.New("bluezdev: device not found")

	// ErrServiceNotFound indicates the device does not expose the hub
	// protocol service.
	ErrServiceNotFound = errors.New("bluezdev: protocol service not found on device")
)

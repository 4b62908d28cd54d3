package usbdesc

import "errors"

// ErrDescriptorFormat is returned when the capability descriptor does not
// have the structure this client understands. It aborts the connection
// attempt; callers must not retry discovery against the same firmware.
var ErrDescriptorFormat = errors.New("usbdesc: unexpected capability descriptor format")

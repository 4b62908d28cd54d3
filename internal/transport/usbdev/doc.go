// Package usbdev opens a hub over the bus, runs capability descriptor
// discovery to locate the vendor protocol endpoints and exposes the
// claimed device as a transport.Wired device.
package usbdev

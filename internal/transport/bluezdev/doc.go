// Package bluezdev connects to a hub over BlueZ's D-Bus GATT API and
// exposes the connection as a transport.Wireless device.
//
// The package owns all BlueZ specifics: locating the device object,
// resolving the vendor service characteristics, characteristic writes and
// notification delivery. Framing, request/response matching and event
// dispatch live in package transport.
package bluezdev

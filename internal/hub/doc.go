// Package hub drives one hub connection end to end: capability
// negotiation on connect, program download, and run orchestration over
// the status event stream.
//
// A Session owns exactly one transport at a time and moves through
// disconnected -> connecting -> connected -> disconnecting. Every wait a
// Session performs races against transport loss and the caller's context;
// a hub that vanishes mid-operation resolves the operation immediately
// with transport.ErrDisconnected rather than hanging.
package hub

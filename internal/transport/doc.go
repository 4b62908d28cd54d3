// Package transport turns a raw hub byte channel into the framed
// request/response/event protocol.
//
// Two variants exist over a shared core: a wireless one driven by
// characteristic notifications and a wired one driven by endpoint packets.
// Both run a single reader goroutine that decodes every inbound frame and
// dispatches it:
//
//   - Response frames resolve the single outstanding pending-response slot.
//     A response with no outstanding request is a protocol anomaly and is
//     dropped, not fatal.
//   - StatusReport events are published to the status stream with last-value
//     semantics.
//   - Stdout events are reassembled into lines and queued for subscribers.
//
// # Waiting discipline
//
// Every wait selects over {result, request timeout, disconnect, caller
// context}; whichever occurs first wins and the others are abandoned
// without leaking the slot. The moment the connection is lost the done
// channel closes, so outstanding waits resolve with ErrDisconnected
// promptly instead of running out their own timeout.
//
// At most one request is outstanding per transport; concurrent Send calls
// serialize on the slot.
package transport

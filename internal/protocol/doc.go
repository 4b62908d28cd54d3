// Package protocol defines the hub link wire protocol: the framed message
// format exchanged with hub firmware, the capability model negotiated at
// connection time, and the status flags reported by the device.
//
// # Framing
//
// Every frame starts with a one-byte message type:
//
//	0x01 Command   host → hub, first payload byte is the command opcode
//	0x02 Response  hub → host, answers the single outstanding command
//	0x03 Event     hub → host, first payload byte is the event kind
//
// Transport-specific concerns (chunking, characteristic writes, endpoint
// reads) live in the transport package; this package only encodes and
// decodes payloads.
//
// # Capability negotiation
//
// The identity response carries the hub kind and the firmware's declared
// bytecode ABI version. Firmware that declares an ABI also answers the
// capability query with a JSON document keyed by subsystem name, from which
// HubCapabilityFlag values and transfer limits are derived. Firmware with no
// declared ABI is legacy and negotiates nothing.
//
// # Thread Safety
//
// All functions are pure; all types are value types safe to copy.
package protocol

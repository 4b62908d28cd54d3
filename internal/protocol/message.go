package protocol

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the first byte of every frame on the wire.
type MessageType byte

const (
	// MessageCommand carries a host-to-hub command; the first payload
	// byte is the CommandOpcode.
	MessageCommand MessageType = 0x01

	// MessageResponse answers the single outstanding command.
	MessageResponse MessageType = 0x02

	// MessageEvent carries an unsolicited hub-to-host notification; the
	// first payload byte is the EventKind.
	MessageEvent MessageType = 0x03
)

// CommandOpcode selects the operation a Command frame requests.
type CommandOpcode byte

const (
	// CommandStopProgram stops the running user program.
	CommandStopProgram CommandOpcode = 0x00

	// CommandStartProgram starts the stored user program.
	CommandStartProgram CommandOpcode = 0x01

	// CommandWriteProgramMeta declares the stored program size.
	// Payload: uint32 little-endian size. Size zero invalidates the
	// stored program ahead of a download; the final non-zero write
	// commits it and is acknowledged with a Response frame.
	CommandWriteProgramMeta CommandOpcode = 0x02

	// CommandWriteProgramData writes a slice of program bytes.
	// Payload: uint32 little-endian offset followed by the data.
	CommandWriteProgramData CommandOpcode = 0x03

	// CommandGetIdentity asks for the hub kind, variant, firmware
	// version and declared bytecode ABI.
	CommandGetIdentity CommandOpcode = 0x04

	// CommandGetCapabilities asks for the capability document.
	// Only valid on firmware that declares a bytecode ABI.
	CommandGetCapabilities CommandOpcode = 0x05
)

// EventKind selects the payload layout of an Event frame.
type EventKind byte

const (
	// EventStatusReport carries a uint32 little-endian StatusFlag snapshot.
	EventStatusReport EventKind = 0x00

	// EventStdout carries a fragment of user program output. Fragments
	// are reassembled into lines by the transport.
	EventStdout EventKind = 0x01
)

// Message is a single decoded frame. The payload layout depends on Type.
type Message struct {
	Type    MessageType
	Payload []byte
}

// EncodeCommand builds a Command frame for the given opcode and payload.
func EncodeCommand(op CommandOpcode, payload []byte) []byte {
	frame := make([]byte, 2+len(payload))
	frame[0] = byte(MessageCommand)
	frame[1] = byte(op)
	copy(frame[2:], payload)
	return frame
}

// EncodeWriteProgramMeta builds the program-size declaration command.
func EncodeWriteProgramMeta(size uint32) []byte {
	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], size)
	return EncodeCommand(CommandWriteProgramMeta, payload[:])
}

// EncodeWriteProgramData builds a program-data write command for the chunk
// at the given offset.
func EncodeWriteProgramData(offset uint32, data []byte) []byte {
	payload := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(payload[:4], offset)
	copy(payload[4:], data)
	return EncodeCommand(CommandWriteProgramData, payload)
}

// EncodeResponse builds a Response frame. Used by tests and diagnostics;
// real responses originate from the device.
func EncodeResponse(payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(MessageResponse)
	copy(frame[1:], payload)
	return frame
}

// EncodeEvent builds an Event frame. Used by tests and diagnostics; real
// events originate from the device.
func EncodeEvent(kind EventKind, data []byte) []byte {
	frame := make([]byte, 2+len(data))
	frame[0] = byte(MessageEvent)
	frame[1] = byte(kind)
	copy(frame[2:], data)
	return frame
}

// EncodeStatusEvent builds a StatusReport event frame for the given flags.
func EncodeStatusEvent(flags StatusFlag) []byte {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], uint32(flags))
	return EncodeEvent(EventStatusReport, data[:])
}

// ParseMessage decodes a raw frame into a Message.
//
// Returns ErrInvalidMessage if the frame is empty or its type byte is not a
// known MessageType.
func ParseMessage(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return Message{}, fmt.Errorf("%w: empty frame", ErrInvalidMessage)
	}
	t := MessageType(frame[0])
	switch t {
	case MessageCommand, MessageResponse, MessageEvent:
	default:
		return Message{}, fmt.Errorf("%w: unknown type 0x%02X", ErrInvalidMessage, frame[0])
	}

	payload := make([]byte, len(frame)-1)
	copy(payload, frame[1:])
	return Message{Type: t, Payload: payload}, nil
}

// ParseEvent splits an Event payload into its kind and data.
func ParseEvent(payload []byte) (EventKind, []byte, error) {
	if len(payload) == 0 {
		return 0, nil, fmt.Errorf("%w: empty event payload", ErrInvalidMessage)
	}
	return EventKind(payload[0]), payload[1:], nil
}

// DecodeStatusReport decodes the flags snapshot of a StatusReport event.
func DecodeStatusReport(data []byte) (StatusFlag, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: status report needs 4 bytes, got %d", ErrInvalidMessage, len(data))
	}
	return StatusFlag(binary.LittleEndian.Uint32(data)), nil
}

// Identity is the decoded identity response.
type Identity struct {
	// Kind is the physical hub model.
	Kind HubKind

	// Variant distinguishes hardware revisions of the same kind.
	Variant byte

	// ABI is the declared bytecode ABI, or ABIUnknown for legacy firmware.
	ABI ABIVersion

	// Firmware is the human-readable firmware version string.
	Firmware string
}

// DecodeIdentity decodes an identity response payload.
//
// Layout: kind(1) + variant(1) + abi(1) + firmware version text.
func DecodeIdentity(data []byte) (Identity, error) {
	if len(data) < 3 {
		return Identity{}, fmt.Errorf("%w: need at least 3 bytes, got %d", ErrInvalidIdentity, len(data))
	}
	return Identity{
		Kind:     HubKind(data[0]),
		Variant:  data[1],
		ABI:      ABIVersion(data[2]),
		Firmware: string(data[3:]),
	}, nil
}

// EncodeIdentity builds an identity response payload. Used by tests.
func EncodeIdentity(id Identity) []byte {
	data := make([]byte, 3+len(id.Firmware))
	data[0] = byte(id.Kind)
	data[1] = id.Variant
	data[2] = byte(id.ABI)
	copy(data[3:], id.Firmware)
	return data
}

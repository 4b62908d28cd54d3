package protocol

import (
	"encoding/json"
	"fmt"
)

// Capabilities is the negotiated result of the capability query: the
// feature flags the firmware attests plus the transfer limits it declares.
// Values live for the duration of one connection and are discarded on
// disconnect.
type Capabilities struct {
	// Flags is the derived feature bit set.
	Flags HubCapabilityFlag

	// ABI is the bytecode ABI the firmware accepts.
	ABI ABIVersion

	// MpySupported reports whether the firmware accepts compiled
	// bytecode at all. Connections to firmware that denies this must
	// fail before any program bytes are sent.
	MpySupported bool

	// MaxWriteSize is the largest single data write the firmware
	// accepts, in bytes. Zero means the firmware declared no limit.
	MaxWriteSize int

	// MaxProgramSize bounds the encoded program size when non-zero.
	// It must be checked before upload, not learned from a failed write.
	MaxProgramSize int
}

// capabilityDoc is the wire form of the capability response: a JSON
// document keyed by subsystem name.
type capabilityDoc struct {
	Mpy struct {
		Supported bool `json:"supported"`
		ABI       int  `json:"abi"`
		MultiFile bool `json:"multi_file"`
	} `json:"mpy"`
	Repl struct {
		Supported bool `json:"supported"`
	} `json:"repl"`
	Modules struct {
		Builtin bool `json:"builtin"`
	} `json:"modules"`
	Limits struct {
		MaxWriteSize       int `json:"max_write_size"`
		MaxUserProgramSize int `json:"max_user_program_size"`
	} `json:"limits"`
}

// ParseCapabilities decodes a capability query response.
//
// The response is a JSON map keyed by subsystem name. At minimum the "mpy"
// subsystem must be present to attest or deny compiled-bytecode support;
// whether a denial is acceptable is the caller's decision, not a parse
// error.
//
// Returns ErrInvalidCapabilities if the payload is not a JSON object or
// declares negative limits.
func ParseCapabilities(data []byte) (Capabilities, error) {
	var doc capabilityDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Capabilities{}, fmt.Errorf("%w: %w", ErrInvalidCapabilities, err)
	}
	if doc.Limits.MaxWriteSize < 0 || doc.Limits.MaxUserProgramSize < 0 {
		return Capabilities{}, fmt.Errorf("%w: negative transfer limit", ErrInvalidCapabilities)
	}

	caps := Capabilities{
		MpySupported:   doc.Mpy.Supported,
		ABI:            ABIVersion(doc.Mpy.ABI), //nolint:gosec // ABI values are single-digit
		MaxWriteSize:   doc.Limits.MaxWriteSize,
		MaxProgramSize: doc.Limits.MaxUserProgramSize,
	}
	if doc.Mpy.Supported && doc.Mpy.MultiFile && caps.ABI == ABI6 {
		caps.Flags |= CapabilityBundleABI6
	}
	if doc.Repl.Supported {
		caps.Flags |= CapabilityREPL
	}
	if doc.Modules.Builtin {
		caps.Flags |= CapabilityBuiltinModules
	}
	return caps, nil
}

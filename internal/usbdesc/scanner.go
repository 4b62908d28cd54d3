package usbdesc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
)

// Capability descriptor structure constants.
const (
	// headerSize is the fixed minimal read: bLength(1) + bDescriptorType(1)
	// + wTotalLength(2, little-endian) + bNumCaps(1). Large enough to read
	// the total-length field; never assumed to cover the whole descriptor.
	headerSize = 5

	// descTypeBOS marks the capability descriptor header.
	descTypeBOS = 0x0F

	// descTypeDeviceCapability marks every sub-descriptor.
	descTypeDeviceCapability = 0x10

	// capTypePlatform marks a platform capability sub-descriptor.
	capTypePlatform = 0x05

	// platformHeaderSize is the sub-descriptor prefix before the UUID:
	// bLength(1) + bDescriptorType(1) + bDevCapabilityType(1) + reserved(1).
	platformHeaderSize = 4

	// platformDataSize is the vendor capability data after the UUID:
	// in endpoint(1) + out endpoint(1) + max packet size(2, little-endian).
	platformDataSize = 4

	// uuidSize is the platform capability UUID length.
	uuidSize = 16

	// endpointDirIn is the direction bit of an endpoint address.
	endpointDirIn = 0x80
)

// ProtocolUUID identifies the hub link vendor protocol inside a platform
// capability sub-descriptor.
var ProtocolUUID = [uuidSize]byte{
	0xA5, 0xC4, 0x4A, 0x4C, 0x5D, 0x77, 0x4E, 0x9B,
	0xB8, 0x0A, 0xD0, 0x2D, 0x5B, 0x3E, 0x7C, 0xF1,
}

// ControlReader is the handle to an already-claimed bus device. The
// transport adapter owns claiming and releasing; the scanner only issues
// capability descriptor reads through it.
type ControlReader interface {
	// ReadCapabilityDescriptor issues a capability descriptor control
	// read into buf and returns the number of bytes the device produced,
	// which may be less than len(buf).
	ReadCapabilityDescriptor(ctx context.Context, buf []byte) (int, error)
}

// Endpoints is the discovered vendor protocol endpoint pair.
type Endpoints struct {
	// In is the device-to-host endpoint address (direction bit set).
	In byte

	// Out is the host-to-device endpoint address.
	Out byte

	// MaxPacketSize bounds a single low-level write; larger frames must
	// be split by the framing layer.
	MaxPacketSize int
}

// Scan performs the two-pass capability descriptor discovery and extracts
// the vendor protocol endpoints.
//
// Returns ErrDescriptorFormat if the descriptor header, any sub-descriptor
// type, or the platform capability contents are not what this client
// understands. Control read failures are returned as-is.
func Scan(ctx context.Context, dev ControlReader) (Endpoints, error) {
	// First pass: minimal read to learn the total length.
	header := make([]byte, headerSize)
	n, err := dev.ReadCapabilityDescriptor(ctx, header)
	if err != nil {
		return Endpoints{}, fmt.Errorf("usbdesc: descriptor length read: %w", err)
	}
	if n < headerSize {
		return Endpoints{}, fmt.Errorf("%w: length read returned %d bytes, need %d", ErrDescriptorFormat, n, headerSize)
	}
	if header[0] != headerSize || header[1] != descTypeBOS {
		return Endpoints{}, fmt.Errorf("%w: header (length=%d, type=0x%02X)", ErrDescriptorFormat, header[0], header[1])
	}
	total := int(binary.LittleEndian.Uint16(header[2:4]))
	if total < headerSize {
		return Endpoints{}, fmt.Errorf("%w: declared total length %d", ErrDescriptorFormat, total)
	}

	// Second pass: fetch the full structure.
	full := make([]byte, total)
	n, err = dev.ReadCapabilityDescriptor(ctx, full)
	if err != nil {
		return Endpoints{}, fmt.Errorf("usbdesc: descriptor fetch: %w", err)
	}
	if n < total {
		return Endpoints{}, fmt.Errorf("%w: fetch returned %d of %d bytes", ErrDescriptorFormat, n, total)
	}

	return walk(full[headerSize:total])
}

// walk scans the sub-descriptor sequence for the vendor platform capability.
// Each sub-descriptor is prefixed by its own length and a type byte.
func walk(data []byte) (Endpoints, error) {
	for off := 0; off < len(data); {
		if len(data)-off < 3 {
			return Endpoints{}, fmt.Errorf("%w: truncated sub-descriptor at offset %d", ErrDescriptorFormat, off)
		}
		length := int(data[off])
		descType := data[off+1]
		if descType != descTypeDeviceCapability {
			return Endpoints{}, fmt.Errorf("%w: sub-descriptor type 0x%02X at offset %d", ErrDescriptorFormat, descType, off)
		}
		if length < 3 || off+length > len(data) {
			return Endpoints{}, fmt.Errorf("%w: sub-descriptor length %d at offset %d", ErrDescriptorFormat, length, off)
		}

		if data[off+2] == capTypePlatform {
			ep, ok, err := parsePlatform(data[off : off+length])
			if err != nil {
				return Endpoints{}, err
			}
			if ok {
				return ep, nil
			}
			// Platform capability for some other protocol; keep walking.
		}
		off += length
	}
	return Endpoints{}, fmt.Errorf("%w: no platform capability for the vendor protocol", ErrDescriptorFormat)
}

// parsePlatform extracts endpoints from one platform capability
// sub-descriptor. ok is false when the UUID belongs to another protocol.
func parsePlatform(desc []byte) (Endpoints, bool, error) {
	if len(desc) < platformHeaderSize+uuidSize {
		return Endpoints{}, false, fmt.Errorf("%w: platform capability too short (%d bytes)", ErrDescriptorFormat, len(desc))
	}
	if !bytes.Equal(desc[platformHeaderSize:platformHeaderSize+uuidSize], ProtocolUUID[:]) {
		return Endpoints{}, false, nil
	}

	data := desc[platformHeaderSize+uuidSize:]
	if len(data) < platformDataSize {
		return Endpoints{}, false, fmt.Errorf("%w: platform capability missing endpoint data", ErrDescriptorFormat)
	}

	ep := Endpoints{
		In:            data[0],
		Out:           data[1],
		MaxPacketSize: int(binary.LittleEndian.Uint16(data[2:4])),
	}
	if ep.In&endpointDirIn == 0 || ep.Out&endpointDirIn != 0 {
		return Endpoints{}, false, fmt.Errorf("%w: endpoint pair (in=0x%02X, out=0x%02X)", ErrDescriptorFormat, ep.In, ep.Out)
	}
	if ep.MaxPacketSize == 0 {
		return Endpoints{}, false, fmt.Errorf("%w: zero max packet size", ErrDescriptorFormat)
	}
	return ep, true, nil
}

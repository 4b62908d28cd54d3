package usbdesc

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

// fakeDevice serves a canned capability descriptor and records reads.
type fakeDevice struct {
	descriptor []byte
	reads      int
	err        error
}

func (d *fakeDevice) ReadCapabilityDescriptor(_ context.Context, buf []byte) (int, error) {
	d.reads++
	if d.err != nil {
		return 0, d.err
	}
	return copy(buf, d.descriptor), nil
}

// buildDescriptor assembles a BOS header followed by raw sub-descriptor
// bytes, with the header's total length matching the real size.
func buildDescriptor(subs ...[]byte) []byte {
	total := headerSize
	for _, s := range subs {
		total += len(s)
	}
	out := make([]byte, 0, total)
	out = append(out, headerSize, descTypeBOS)
	var lenField [2]byte
	binary.LittleEndian.PutUint16(lenField[:], uint16(total))
	out = append(out, lenField[:]...)
	out = append(out, byte(len(subs)))
	for _, s := range subs {
		out = append(out, s...)
	}
	return out
}

// platformSub builds a platform capability sub-descriptor with the given
// UUID and endpoint data.
func platformSub(uuid [16]byte, in, out byte, maxPacket uint16) []byte {
	desc := []byte{0, descTypeDeviceCapability, capTypePlatform, 0}
	desc = append(desc, uuid[:]...)
	var mps [2]byte
	binary.LittleEndian.PutUint16(mps[:], maxPacket)
	desc = append(desc, in, out)
	desc = append(desc, mps[:]...)
	desc[0] = byte(len(desc))
	return desc
}

func TestScan(t *testing.T) {
	otherUUID := [16]byte{0xDE, 0xAD}

	tests := []struct {
		name       string
		descriptor []byte
		want       Endpoints
		wantErr    bool
	}{
		{
			name:       "vendor platform capability present",
			descriptor: buildDescriptor(platformSub(ProtocolUUID, 0x81, 0x02, 64)),
			want:       Endpoints{In: 0x81, Out: 0x02, MaxPacketSize: 64},
		},
		{
			name: "foreign platform capability skipped",
			descriptor: buildDescriptor(
				platformSub(otherUUID, 0x83, 0x04, 512),
				platformSub(ProtocolUUID, 0x81, 0x02, 64),
			),
			want: Endpoints{In: 0x81, Out: 0x02, MaxPacketSize: 64},
		},
		{
			name: "non-platform capability skipped",
			descriptor: buildDescriptor(
				[]byte{4, descTypeDeviceCapability, 0x02, 0x00}, // USB 2.0 extension
				platformSub(ProtocolUUID, 0x81, 0x02, 64),
			),
			want: Endpoints{In: 0x81, Out: 0x02, MaxPacketSize: 64},
		},
		{
			name:       "sub-descriptor with unexpected type is fatal",
			descriptor: buildDescriptor([]byte{5, 0xFE, 0x00, 0x00, 0x00}),
			wantErr:    true,
		},
		{
			name:       "no platform capability at all",
			descriptor: buildDescriptor([]byte{4, descTypeDeviceCapability, 0x02, 0x00}),
			wantErr:    true,
		},
		{
			name:       "wrong header type",
			descriptor: []byte{headerSize, 0x01, 0x0A, 0x00, 0x00, 0, 0, 0, 0, 0},
			wantErr:    true,
		},
		{
			name:       "swapped endpoint directions",
			descriptor: buildDescriptor(platformSub(ProtocolUUID, 0x02, 0x81, 64)),
			wantErr:    true,
		},
		{
			name:       "zero max packet size",
			descriptor: buildDescriptor(platformSub(ProtocolUUID, 0x81, 0x02, 0)),
			wantErr:    true,
		},
		{
			name: "platform capability truncated before endpoint data",
			descriptor: buildDescriptor(append(
				[]byte{4 + 16, descTypeDeviceCapability, capTypePlatform, 0}, ProtocolUUID[:]...)),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{descriptor: tt.descriptor}
			got, err := Scan(context.Background(), dev)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("Scan() expected error, got nil")
				}
				if !errors.Is(err, ErrDescriptorFormat) {
					t.Errorf("Scan() error = %v, want ErrDescriptorFormat", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Scan() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Scan() = %+v, want %+v", got, tt.want)
			}
			if dev.reads != 2 {
				t.Errorf("reads = %d, want 2 (length pass + fetch pass)", dev.reads)
			}
		})
	}
}

// The ten-byte descriptor case: total length reported as 10, second read
// yields a sub-descriptor header of (length=5, type=0xFE). Discovery must
// fail with a format error after exactly two reads, without attempting
// endpoint extraction.
func TestScanRejectsForeignSubDescriptorAfterTwoReads(t *testing.T) {
	descriptor := []byte{
		headerSize, descTypeBOS, 10, 0x00, 1, // header, total=10
		5, 0xFE, 0x00, 0x00, 0x00, // sub-descriptor (length=5, type=0xFE)
	}
	dev := &fakeDevice{descriptor: descriptor}

	_, err := Scan(context.Background(), dev)
	if !errors.Is(err, ErrDescriptorFormat) {
		t.Fatalf("Scan() error = %v, want ErrDescriptorFormat", err)
	}
	if dev.reads != 2 {
		t.Errorf("reads = %d, want exactly 2", dev.reads)
	}
}

func TestScanPropagatesControlReadErrors(t *testing.T) {
	readErr := errors.New("pipe stall")
	dev := &fakeDevice{err: readErr}

	_, err := Scan(context.Background(), dev)
	if !errors.Is(err, readErr) {
		t.Errorf("Scan() error = %v, want wrapped %v", err, readErr)
	}
	if errors.Is(err, ErrDescriptorFormat) {
		t.Errorf("control read failure must not be a descriptor-format error")
	}
}

func TestScanShortLengthRead(t *testing.T) {
	dev := &fakeDevice{descriptor: []byte{headerSize, descTypeBOS}}
	if _, err := Scan(context.Background(), dev); !errors.Is(err, ErrDescriptorFormat) {
		t.Errorf("Scan() error = %v, want ErrDescriptorFormat", err)
	}
}

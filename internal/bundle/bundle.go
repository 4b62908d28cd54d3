package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// MainModule is the canonical name of the program entry point. Every bundle
// must contain it exactly once.
const MainModule = "__main__"

// entryHeaderSize is the fixed per-entry overhead before the name:
// the 4-byte little-endian bytecode length.
const entryHeaderSize = 4

// Entry is one named bytecode blob in a bundle.
type Entry struct {
	// Name is the module name as the firmware will import it.
	Name string

	// Bytecode is the compiled blob. May be empty for empty modules.
	Bytecode []byte
}

// EncodedSize returns the number of bytes Encode would produce for entries,
// without validating them. Used for proactive size-limit checks.
func EncodedSize(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += entryHeaderSize + len(e.Name) + 1 + len(e.Bytecode)
	}
	return n
}

// Encode packs entries into the multi-file wire format, preserving order.
//
// Exactly one entry must be named MainModule. Names must be non-empty and
// free of NUL bytes (the name is NUL-terminated on the wire).
func Encode(entries []Entry) ([]byte, error) {
	mains := 0
	for _, e := range entries {
		if e.Name == "" || strings.ContainsRune(e.Name, 0) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, e.Name)
		}
		if e.Name == MainModule {
			mains++
		}
	}
	if mains == 0 {
		return nil, ErrNoMainModule
	}
	if mains > 1 {
		return nil, ErrDuplicateMainModule
	}

	buf := make([]byte, 0, EncodedSize(entries))
	for _, e := range entries {
		var size [entryHeaderSize]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(e.Bytecode))) //nolint:gosec // bounded by program size limits
		buf = append(buf, size[:]...)
		buf = append(buf, e.Name...)
		buf = append(buf, 0)
		buf = append(buf, e.Bytecode...)
	}
	return buf, nil
}

// Decode unpacks an encoded bundle back into its entries. Primarily for
// tests and diagnostics; the firmware is the normal consumer of this format.
func Decode(data []byte) ([]Entry, error) {
	var entries []Entry
	for off := 0; off < len(data); {
		if len(data)-off < entryHeaderSize+1 {
			return nil, fmt.Errorf("%w: truncated entry header at offset %d", ErrMalformed, off)
		}
		size := int(binary.LittleEndian.Uint32(data[off : off+entryHeaderSize]))
		off += entryHeaderSize

		nul := bytes.IndexByte(data[off:], 0)
		if nul < 0 {
			return nil, fmt.Errorf("%w: unterminated name at offset %d", ErrMalformed, off)
		}
		if nul == 0 {
			return nil, fmt.Errorf("%w: empty name at offset %d", ErrMalformed, off)
		}
		name := string(data[off : off+nul])
		off += nul + 1

		if len(data)-off < size {
			return nil, fmt.Errorf("%w: entry %q declares %d bytecode bytes, %d remain", ErrMalformed, name, size, len(data)-off)
		}
		bytecode := make([]byte, size)
		copy(bytecode, data[off:off+size])
		off += size

		entries = append(entries, Entry{Name: name, Bytecode: bytecode})
	}
	return entries, nil
}

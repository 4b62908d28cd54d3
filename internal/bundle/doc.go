// Package bundle packs compiled program modules into the hub's multi-file
// wire format.
//
// Each entry is emitted as a 4-byte little-endian bytecode length, the
// module name as a NUL-terminated string, then the bytecode bytes. There is
// no entry count and no terminator; the end is implied by the enclosing
// transport message length.
//
// A single-entry bundle with no imports is byte-identical to the legacy
// single-file format it replaces. That equivalence is a correctness
// requirement, not an optimisation: capability negotiation must be able to
// fall back to the legacy path safely.
//
// The encoder never compiles anything and never reorders entries; it is
// handed already-compiled blobs in the dependency order the module resolver
// produced.
package bundle

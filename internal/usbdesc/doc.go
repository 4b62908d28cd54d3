// Package usbdesc discovers the vendor protocol endpoints of a wired hub by
// walking its capability descriptor.
//
// Before the framed vendor protocol can be spoken over the bus, the client
// must learn which endpoint pair the firmware dedicates to it and the
// maximum packet size for writes. Both live in a platform capability
// sub-descriptor identified by the vendor UUID.
//
// Discovery is always two reads: a fixed minimal-size read to learn the
// descriptor's total length, then a full-length read. A device is never
// assumed to return the entire descriptor in one pass.
//
// Any structural mismatch — wrong header, wrong sub-descriptor type, missing
// endpoints — is a descriptor-format error. It is fatal for the connection
// attempt and never retried, because it means firmware this client does not
// understand.
package usbdesc

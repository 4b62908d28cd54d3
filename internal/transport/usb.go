package transport

import (
	"context"
)

// Wired is the endpoint-level surface the bus adapter provides after
// descriptor discovery has located the vendor protocol endpoints.
type Wired interface {
	// WritePacket performs one low-level write of at most MaxPacketSize
	// bytes.
	WritePacket(ctx context.Context, p []byte) error

	// Packets delivers inbound endpoint reads. The channel closes when
	// the device disappears.
	Packets() <-chan []byte

	// MaxPacketSize is the descriptor-reported write ceiling.
	MaxPacketSize() int

	// Close releases the claimed interface and device.
	Close() error
}

// USB is the wired framed transport variant. Outbound frames larger than
// the device's maximum packet size are split across multiple low-level
// writes here, in the framing layer — callers never chunk.
type USB struct {
	link
	dev Wired
}

var _ Transport = (*USB)(nil)

// NewUSB wraps a claimed wired device into a framed transport and starts
// its reader goroutine.
func NewUSB(dev Wired, opts ...Option) *USB {
	t := &USB{dev: dev}
	t.link = newLink()
	t.link.writeFrame = t.writeChunked
	for _, opt := range opts {
		opt(&t.link)
	}

	go t.readLoop()
	return t
}

// writeChunked splits one outbound frame across max-packet-size writes.
func (t *USB) writeChunked(ctx context.Context, frame []byte) error {
	max := t.dev.MaxPacketSize()
	if max <= 0 || len(frame) <= max {
		return t.dev.WritePacket(ctx, frame)
	}
	for off := 0; off < len(frame); off += max {
		end := off + max
		if end > len(frame) {
			end = len(frame)
		}
		if err := t.dev.WritePacket(ctx, frame[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// readLoop is the single reader: every endpoint packet is one inbound
// frame. Device-to-host messages fit a single packet by contract. Queued
// packets drain ahead of slot arming so a stale response can never answer
// a request armed after it arrived.
func (t *USB) readLoop() {
	for {
		select {
		case frame, ok := <-t.dev.Packets():
			if !ok {
				t.done.Close()
				return
			}
			t.handleFrame(frame)
			continue
		default:
		}
		select {
		case frame, ok := <-t.dev.Packets():
			if !ok {
				t.done.Close()
				return
			}
			t.handleFrame(frame)
		case slot := <-t.armCh:
			t.arm(slot)
		}
	}
}

// MaxWriteSize returns the device's packet ceiling so callers can size
// their own payloads when negotiation declares no limit.
func (t *USB) MaxWriteSize() int {
	return t.dev.MaxPacketSize()
}

// Close tears the connection down and wakes every outstanding wait.
func (t *USB) Close() error {
	t.done.Close()
	return t.dev.Close()
}

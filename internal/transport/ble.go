package transport

import (
	"context"
	"fmt"
)

// Wireless is the characteristic-level surface the BLE adapter provides.
// The transport only consumes these primitives; scanning, pairing and GATT
// resolution belong to the adapter.
type Wireless interface {
	// Write performs one characteristic write. withResponse selects an
	// acknowledged write at the ATT layer.
	Write(ctx context.Context, data []byte, withResponse bool) error

	// Notifications delivers inbound characteristic values. The channel
	// closes when the device disconnects.
	Notifications() <-chan []byte

	// Disconnected is closed when the peripheral drops the connection.
	Disconnected() <-chan struct{}

	// Close releases the characteristic subscription and the connection.
	Close() error
}

// BLE is the wireless framed transport variant.
type BLE struct {
	link
	dev Wireless
}

var _ Transport = (*BLE)(nil)

// NewBLE wraps a connected wireless device into a framed transport and
// starts its reader goroutine.
func NewBLE(dev Wireless, opts ...Option) *BLE {
	t := &BLE{dev: dev}
	t.link = newLink()
	t.link.writeFrame = func(ctx context.Context, frame []byte) error {
		return dev.Write(ctx, frame, false)
	}
	for _, opt := range opts {
		opt(&t.link)
	}

	go t.readLoop()
	return t
}

// readLoop is the single reader: every notification is one inbound frame.
// Queued notifications drain ahead of slot arming so a stale response can
// never answer a request armed after it arrived.
func (t *BLE) readLoop() {
	for {
		select {
		case frame, ok := <-t.dev.Notifications():
			if !ok {
				t.done.Close()
				return
			}
			t.handleFrame(frame)
			continue
		default:
		}
		select {
		case <-t.dev.Disconnected():
			t.done.Close()
			return
		case frame, ok := <-t.dev.Notifications():
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

// WriteRaw performs a raw characteristic write, bypassing framing. Used by
// diagnostics; like Send, the write races against disconnection and ctx.
func (t *BLE) WriteRaw(ctx context.Context, data []byte, withResponse bool) error {
	if t.isClosed() {
		return ErrDisconnected
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- t.dev.Write(ctx, data, withResponse)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		return nil
	case <-t.done.Done():
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MaxWriteSize returns zero: the wireless channel imposes no framing-layer
// chunk limit; the session bounds data writes by the negotiated limit.
func (t *BLE) MaxWriteSize() int {
	return 0
}

// Close tears the connection down and wakes every outstanding wait.
func (t *BLE) Close() error {
	t.done.Close()
	return t.dev.Close()
}

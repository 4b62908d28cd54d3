package usbdev

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"

	"github.com/nbirch/hublink/internal/transport"
	"github.com/nbirch/hublink/internal/usbdesc"
)

// ErrDeviceNotFound indicates no device with the configured IDs is
// attached.
var ErrDeviceNotFound = errors.New("usbdev: device not found")

const (
	// GET_DESCRIPTOR for the capability descriptor set.
	reqGetDescriptor   = 0x06
	descriptorSetValue = 0x0F << 8

	readBufSize = 1024
)

// Config identifies the hub on the bus.
type Config struct {
	VendorID  uint16
	ProductID uint16
}

// Device is a claimed hub with its protocol endpoints resolved. It
// satisfies transport.Wired.
type Device struct {
	usbCtx  *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	release func()

	in  *gousb.InEndpoint
	out *gousb.OutEndpoint

	maxPacket int
	packets   chan []byte
	cancel    context.CancelFunc
}

var _ transport.Wired = (*Device)(nil)

// controlHandle adapts a gousb device to the descriptor scanner.
type controlHandle struct {
	dev *gousb.Device
}

func (h controlHandle) ReadCapabilityDescriptor(_ context.Context, buf []byte) (int, error) {
	return h.dev.Control(gousb.ControlIn|gousb.ControlStandard|gousb.ControlDevice,
		reqGetDescriptor, descriptorSetValue, 0, buf)
}

// Open claims the hub, discovers its protocol endpoints and starts the
// endpoint reader. The caller owns the returned device and must Close it.
func Open(ctx context.Context, cfg Config, log transport.Logger) (*Device, error) {
	usbCtx := gousb.NewContext()

	dev, err := open(ctx, usbCtx, cfg, log)
	if err != nil {
		usbCtx.Close()
		return nil, err
	}
	return dev, nil
}

func open(ctx context.Context, usbCtx *gousb.Context, cfg Config, log transport.Logger) (*Device, error) {
	dev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(cfg.VendorID), gousb.ID(cfg.ProductID))
	if err != nil {
		return nil, fmt.Errorf("usbdev: open %04x:%04x: %w", cfg.VendorID, cfg.ProductID, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, cfg.VendorID, cfg.ProductID)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return nil, fmt.Errorf("usbdev: set auto detach: %w", err)
	}

	eps, err := usbdesc.Scan(ctx, controlHandle{dev: dev})
	if err != nil {
		dev.Close()
		return nil, err
	}
	log.Debug("protocol endpoints discovered",
		"in", fmt.Sprintf("0x%02X", eps.In),
		"out", fmt.Sprintf("0x%02X", eps.Out),
		"max_packet", eps.MaxPacketSize)

	intf, release, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("usbdev: claim interface: %w", err)
	}

	in, err := intf.InEndpoint(int(eps.In & 0x7F))
	if err != nil {
		release()
		dev.Close()
		return nil, fmt.Errorf("usbdev: in endpoint 0x%02X: %w", eps.In, err)
	}
	out, err := intf.OutEndpoint(int(eps.Out))
	if err != nil {
		release()
		dev.Close()
		return nil, fmt.Errorf("usbdev: out endpoint 0x%02X: %w", eps.Out, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	d := &Device{
		usbCtx:    usbCtx,
		dev:       dev,
		intf:      intf,
		release:   release,
		in:        in,
		out:       out,
		maxPacket: eps.MaxPacketSize,
		packets:   make(chan []byte, 16),
		cancel:    cancel,
	}
	go d.readLoop(readCtx, log)
	return d, nil
}

// readLoop drains the in endpoint until the device disappears or Close
// cancels it, then closes the packet channel.
func (d *Device) readLoop(ctx context.Context, log transport.Logger) {
	defer close(d.packets)
	buf := make([]byte, readBufSize)
	for {
		n, err := d.in.ReadContext(ctx, buf)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("endpoint read failed", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		select {
		case d.packets <- packet:
		case <-ctx.Done():
			return
		}
	}
}

// WritePacket performs one out endpoint write of at most MaxPacketSize
// bytes.
func (d *Device) WritePacket(ctx context.Context, p []byte) error {
	if _, err := d.out.WriteContext(ctx, p); err != nil {
		return fmt.Errorf("usbdev: endpoint write: %w", err)
	}
	return nil
}

// Packets delivers inbound endpoint reads.
func (d *Device) Packets() <-chan []byte { return d.packets }

// MaxPacketSize is the descriptor-reported write ceiling.
func (d *Device) MaxPacketSize() int { return d.maxPacket }

// Close stops the reader, releases the interface and closes the device.
func (d *Device) Close() error {
	d.cancel()
	d.release()
	err := d.dev.Close()
	if cerr := d.usbCtx.Close(); err == nil {
		err = cerr
	}
	return err
}

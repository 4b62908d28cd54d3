package bluezdev

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nbirch/hublink/internal/transport"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	serviceIface = "org.bluez.GattService1"
	charIface    = "org.bluez.GattCharacteristic1"
	propsIface   = "org.freedesktop.DBus.Properties"
	omIface      = "org.freedesktop.DBus.ObjectManager"

	serviceUUID = "c5f50001-8280-46da-89f4-6d8051e4aeef"
	rxCharUUID  = "c5f50002-8280-46da-89f4-6d8051e4aeef"
	txCharUUID  = "c5f50003-8280-46da-89f4-6d8051e4aeef"

	discoveryPoll = 500 * time.Millisecond
	resolvePoll   = 250 * time.Millisecond
)

// Config selects the adapter and identifies the hub. Address takes
// precedence over Name; with neither set the first device advertising the
// protocol service wins.
type Config struct {
	Adapter string // hci0 when empty
	Address string // MAC, e.g. "AA:BB:CC:DD:EE:FF"
	Name    string // advertised device name
}

// Device is a connected hub characteristic pair on the system bus. It
// satisfies transport.Wireless.
type Device struct {
	conn *dbus.Conn
	log  transport.Logger

	devicePath dbus.ObjectPath
	rxPath     dbus.ObjectPath
	txPath     dbus.ObjectPath

	notifs       chan []byte
	disconnected chan struct{}
	discOnce     sync.Once
	closeOnce    sync.Once
	closeErr     error
}

var _ transport.Wireless = (*Device)(nil)

// managedObjects is the ObjectManager shape BlueZ returns.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Connect locates the hub, establishes the GATT connection and subscribes
// to protocol notifications. The caller owns the returned device and must
// Close it.
func Connect(ctx context.Context, cfg Config, log transport.Logger) (*Device, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluezdev: connect system bus: %w", err)
	}

	dev, err := connect(ctx, conn, cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return dev, nil
}

func connect(ctx context.Context, conn *dbus.Conn, cfg Config, log transport.Logger) (*Device, error) {
	var hasBluez bool
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, busName).Store(&hasBluez); err != nil {
		return nil, fmt.Errorf("bluezdev: query bus names: %w", err)
	}
	if !hasBluez {
		return nil, ErrBlueZUnavailable
	}

	adapter := cfg.Adapter
	if adapter == "" {
		adapter = "hci0"
	}
	adapterPath := dbus.ObjectPath("/org/bluez/" + adapter)

	devicePath, err := findDevice(ctx, conn, adapterPath, cfg, log)
	if err != nil {
		return nil, err
	}

	// Match rules must be in place before Connect so no property change
	// slips past between connection and subscription.
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return nil, fmt.Errorf("bluezdev: add signal match: %w", err)
	}
	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)

	devObj := conn.Object(busName, devicePath)
	if err := devObj.CallWithContext(ctx, deviceIface+".Connect", 0).Err; err != nil {
		return nil, fmt.Errorf("bluezdev: connect %s: %w", devicePath, err)
	}

	if err := waitServicesResolved(ctx, conn, devicePath); err != nil {
		devObj.Call(deviceIface+".Disconnect", 0)
		return nil, err
	}

	rxPath, txPath, err := findCharacteristics(ctx, conn, devicePath)
	if err != nil {
		devObj.Call(deviceIface+".Disconnect", 0)
		return nil, err
	}

	txObj := conn.Object(busName, txPath)
	if err := txObj.CallWithContext(ctx, charIface+".StartNotify", 0).Err; err != nil {
		devObj.Call(deviceIface+".Disconnect", 0)
		return nil, fmt.Errorf("bluezdev: start notify: %w", err)
	}

	dev := &Device{
		conn:         conn,
		log:          log,
		devicePath:   devicePath,
		rxPath:       rxPath,
		txPath:       txPath,
		notifs:       make(chan []byte, 32),
		disconnected: make(chan struct{}),
	}
	go dev.pump(signals)

	log.Debug("hub connected", "path", string(devicePath))
	return dev, nil
}

// findDevice resolves the device object path from the config, discovering
// by name or service UUID when no address is given.
func findDevice(ctx context.Context, conn *dbus.Conn, adapterPath dbus.ObjectPath, cfg Config, log transport.Logger) (dbus.ObjectPath, error) {
	if cfg.Address != "" {
		escaped := strings.ReplaceAll(strings.ToUpper(cfg.Address), ":", "_")
		return dbus.ObjectPath(string(adapterPath) + "/dev_" + escaped), nil
	}

	adapterObj := conn.Object(busName, adapterPath)
	if err := adapterObj.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		return "", fmt.Errorf("bluezdev: start discovery: %w", err)
	}
	defer adapterObj.Call(adapterIface+".StopDiscovery", 0)

	log.Debug("scanning for hub", "adapter", string(adapterPath), "name", cfg.Name)
	ticker := time.NewTicker(discoveryPoll)
	defer ticker.Stop()
	for {
		if path, ok := matchDevice(ctx, conn, adapterPath, cfg.Name); ok {
			return path, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrDeviceNotFound, ctx.Err())
		case <-ticker.C:
		}
	}
}

// matchDevice walks the managed objects for a device under the adapter
// whose name matches, or that advertises the protocol service.
func matchDevice(ctx context.Context, conn *dbus.Conn, adapterPath dbus.ObjectPath, name string) (dbus.ObjectPath, bool) {
	objs, err := getManagedObjects(ctx, conn)
	if err != nil {
		return "", false
	}
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), string(adapterPath)+"/") {
			continue
		}
		if name != "" {
			if n, _ := props["Name"].Value().(string); n == name {
				return path, true
			}
			continue
		}
		uuids, _ := props["UUIDs"].Value().([]string)
		for _, u := range uuids {
			if strings.EqualFold(u, serviceUUID) {
				return path, true
			}
		}
	}
	return "", false
}

// waitServicesResolved polls Device1.ServicesResolved until BlueZ has
// finished GATT discovery.
func waitServicesResolved(ctx context.Context, conn *dbus.Conn, devicePath dbus.ObjectPath) error {
	obj := conn.Object(busName, devicePath)
	ticker := time.NewTicker(resolvePoll)
	defer ticker.Stop()
	for {
		var v dbus.Variant
		if err := obj.CallWithContext(ctx, propsIface+".Get", 0, deviceIface, "ServicesResolved").Store(&v); err != nil {
			return fmt.Errorf("bluezdev: query ServicesResolved: %w", err)
		}
		if resolved, _ := v.Value().(bool); resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("bluezdev: wait for service resolution: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// findCharacteristics walks the resolved GATT tree for the protocol
// service and its RX/TX characteristics.
func findCharacteristics(ctx context.Context, conn *dbus.Conn, devicePath dbus.ObjectPath) (rx, tx dbus.ObjectPath, err error) {
	objs, err := getManagedObjects(ctx, conn)
	if err != nil {
		return "", "", err
	}

	var servicePath dbus.ObjectPath
	for path, ifaces := range objs {
		props, ok := ifaces[serviceIface]
		if !ok || !strings.HasPrefix(string(path), string(devicePath)+"/") {
			continue
		}
		if u, _ := props["UUID"].Value().(string); strings.EqualFold(u, serviceUUID) {
			servicePath = path
			break
		}
	}
	if servicePath == "" {
		return "", "", ErrServiceNotFound
	}

	for path, ifaces := range objs {
		props, ok := ifaces[charIface]
		if !ok || !strings.HasPrefix(string(path), string(servicePath)+"/") {
			continue
		}
		switch u, _ := props["UUID"].Value().(string); {
		case strings.EqualFold(u, rxCharUUID):
			rx = path
		case strings.EqualFold(u, txCharUUID):
			tx = path
		}
	}
	if rx == "" || tx == "" {
		return "", "", fmt.Errorf("%w: rx or tx characteristic missing", ErrServiceNotFound)
	}
	return rx, tx, nil
}

func getManagedObjects(ctx context.Context, conn *dbus.Conn) (managedObjects, error) {
	var objs managedObjects
	err := conn.Object(busName, "/").CallWithContext(ctx, omIface+".GetManagedObjects", 0).Store(&objs)
	if err != nil {
		return nil, fmt.Errorf("bluezdev: get managed objects: %w", err)
	}
	return objs, nil
}

// pump routes PropertiesChanged signals: TX value updates become inbound
// frames, a Connected=false on the device closes the disconnect channel.
func (d *Device) pump(signals <-chan *dbus.Signal) {
	defer close(d.notifs)
	for sig := range signals {
		if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
			continue
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)

		switch {
		case sig.Path == d.txPath && iface == charIface:
			v, ok := changed["Value"]
			if !ok {
				continue
			}
			data, ok := v.Value().([]byte)
			if !ok {
				continue
			}
			frame := make([]byte, len(data))
			copy(frame, data)
			select {
			case d.notifs <- frame:
			default:
				d.log.Warn("notification dropped, consumer stalled", "len", len(frame))
			}

		case sig.Path == d.devicePath && iface == deviceIface:
			v, ok := changed["Connected"]
			if !ok {
				continue
			}
			if connected, _ := v.Value().(bool); !connected {
				d.log.Debug("hub reported disconnect", "path", string(d.devicePath))
				d.markDisconnected()
			}
		}
	}
	// Bus connection closed underneath us.
	d.markDisconnected()
}

func (d *Device) markDisconnected() {
	d.discOnce.Do(func() { close(d.disconnected) })
}

// Write performs one characteristic write on the RX characteristic.
// withResponse selects an acknowledged ATT write.
func (d *Device) Write(ctx context.Context, data []byte, withResponse bool) error {
	writeType := "command"
	if withResponse {
		writeType = "request"
	}
	options := map[string]dbus.Variant{
		"type": dbus.MakeVariant(writeType),
	}
	obj := d.conn.Object(busName, d.rxPath)
	if err := obj.CallWithContext(ctx, charIface+".WriteValue", 0, data, options).Err; err != nil {
		return fmt.Errorf("bluezdev: write value: %w", err)
	}
	return nil
}

// Notifications delivers inbound characteristic values.
func (d *Device) Notifications() <-chan []byte { return d.notifs }

// Disconnected is closed when BlueZ reports the link down.
func (d *Device) Disconnected() <-chan struct{} { return d.disconnected }

// Close stops notifications, disconnects the device and releases the bus
// connection. Safe to call more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.conn.Object(busName, d.txPath).Call(charIface+".StopNotify", 0)
		err := d.conn.Object(busName, d.devicePath).Call(deviceIface+".Disconnect", 0).Err
		d.markDisconnected()
		if cerr := d.conn.Close(); err == nil {
			err = cerr
		}
		d.closeErr = err
	})
	return d.closeErr
}

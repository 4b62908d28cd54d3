package protocol

// ConnectionState describes where a hub session is in its lifecycle.
//
// Exactly one session owns one ConnectionState value at a time; it is the
// single source of truth for whether operations may proceed. Transitions are
// monotonic per connection attempt:
//
//	Disconnected → Connecting → Connected → Disconnecting → Disconnected
type ConnectionState int

const (
	// StateDisconnected is the initial and terminal state of every attempt.
	StateDisconnected ConnectionState = iota

	// StateConnecting covers transport open, handshake and negotiation.
	StateConnecting

	// StateConnected is the only state in which operations may proceed.
	StateConnected

	// StateDisconnecting covers transport teardown.
	StateDisconnecting
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// HubKind identifies the physical hub model. It is set once from the
// identity response at connection time and immutable afterward. For legacy
// firmware (no declared ABI) it selects the single-file fallback format.
type HubKind byte

const (
	// HubKindMoveHub is the small motorised hub with fixed MTU and the
	// oldest supported firmware line.
	HubKindMoveHub HubKind = 0x40

	// HubKindCityHub is the two-port hub.
	HubKindCityHub HubKind = 0x41

	// HubKindTechnicHub is the four-port hub.
	HubKindTechnicHub HubKind = 0x80

	// HubKindPrimeHub is the large hub with display and buttons.
	HubKindPrimeHub HubKind = 0x81

	// HubKindEssentialHub is the compact display-less variant of the
	// prime hub platform.
	HubKindEssentialHub HubKind = 0x83
)

// String returns a human-readable hub model name.
func (k HubKind) String() string {
	switch k {
	case HubKindMoveHub:
		return "movehub"
	case HubKindCityHub:
		return "cityhub"
	case HubKindTechnicHub:
		return "technichub"
	case HubKindPrimeHub:
		return "primehub"
	case HubKindEssentialHub:
		return "essentialhub"
	default:
		return "unknown"
	}
}

// ABIVersion is the bytecode ABI a program must be compiled against.
// ABIUnknown means the firmware declared no ABI and is treated as legacy.
type ABIVersion byte

const (
	ABIUnknown ABIVersion = 0
	ABI5       ABIVersion = 5
	ABI6       ABIVersion = 6
)

// LegacyABI returns the bytecode ABI used for the single-file fallback when
// firmware declares no ABI. The move hub firmware line never moved past
// ABI 5; everything else ships ABI 6 interpreters.
func (k HubKind) LegacyABI() ABIVersion {
	if k == HubKindMoveHub {
		return ABI5
	}
	return ABI6
}

// HubCapabilityFlag is a bit set describing which upload formats and
// features the connected firmware supports. Derived once during negotiation
// and immutable afterward.
type HubCapabilityFlag uint32

const (
	// CapabilityBundleABI6 indicates support for the multi-file program
	// bundle format carrying ABI 6 bytecode.
	CapabilityBundleABI6 HubCapabilityFlag = 1 << 0

	// CapabilityREPL indicates the firmware can start an interactive
	// prompt instead of a stored program.
	CapabilityREPL HubCapabilityFlag = 1 << 1

	// CapabilityBuiltinModules indicates the firmware bundles its own
	// module set, so imports of those names need not be uploaded.
	CapabilityBuiltinModules HubCapabilityFlag = 1 << 2
)

// Has reports whether all bits in flag are set.
func (f HubCapabilityFlag) Has(flag HubCapabilityFlag) bool {
	return f&flag == flag
}

// StatusFlag is the bit set reported by the device in every status event.
// It is mutated only by inbound events; the session reads it to detect
// program start and stop.
type StatusFlag uint32

const (
	// StatusBatteryLowWarning is set when the battery is nearly empty.
	StatusBatteryLowWarning StatusFlag = 1 << 0

	// StatusBatteryShutdown is set just before a low-battery power-off.
	StatusBatteryShutdown StatusFlag = 1 << 1

	// StatusHighCurrent is set when an output port draws too much.
	StatusHighCurrent StatusFlag = 1 << 2

	// StatusAdvertising is set while the hub broadcasts over the radio.
	StatusAdvertising StatusFlag = 1 << 3

	// StatusPowerButtonPressed is set while the power button is held.
	StatusPowerButtonPressed StatusFlag = 1 << 5

	// StatusProgramRunning is set while a user program executes.
	StatusProgramRunning StatusFlag = 1 << 6

	// StatusShutdownPending is set once the hub begins powering off.
	StatusShutdownPending StatusFlag = 1 << 7
)

// Has reports whether all bits in flag are set.
func (f StatusFlag) Has(flag StatusFlag) bool {
	return f&flag == flag
}

// ProgramRunning reports whether the user-program-running bit is set.
func (f StatusFlag) ProgramRunning() bool {
	return f.Has(StatusProgramRunning)
}

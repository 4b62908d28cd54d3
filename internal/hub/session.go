package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbirch/hublink/internal/bundle"
	"github.com/nbirch/hublink/internal/compile"
	"github.com/nbirch/hublink/internal/protocol"
	"github.com/nbirch/hublink/internal/transport"
)

const (
	// defaultChunkSize bounds data writes when neither negotiation nor
	// the transport declares a limit.
	defaultChunkSize = 100

	// commandOverhead is the frame bytes a data write spends before the
	// chunk itself: message type, opcode and the 32-bit offset.
	commandOverhead = 6

	// startTimeout bounds how long a started program may take to report
	// itself running.
	startTimeout = 5 * time.Second

	// settleDelay gives the hub time to flush trailing output after the
	// run flag clears.
	settleDelay = 300 * time.Millisecond
)

// Dialer establishes a framed transport to one hub. Implementations wrap
// the wireless or wired adapters; the session never sees bus specifics.
type Dialer interface {
	Dial(ctx context.Context) (transport.Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (transport.Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (transport.Transport, error) {
	return f(ctx)
}

// Logger is the logging surface a session needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Session drives one hub connection. All methods are safe for concurrent
// use; long-running operations hold no lock while waiting so Disconnect
// can always interrupt them.
type Session struct {
	dialer Dialer
	log    Logger

	mu       sync.Mutex
	state    protocol.ConnectionState
	tr       transport.Transport
	identity protocol.Identity
	caps     protocol.Capabilities

	// attempt numbers connection attempts so a Connect unwinding after
	// Disconnect voided it never stomps a newer attempt's state.
	attempt       uint64
	cancelConnect context.CancelFunc
}

// NewSession prepares a session over the given dialer. The session starts
// disconnected.
func NewSession(dialer Dialer, log Logger) *Session {
	return &Session{
		dialer: dialer,
		log:    log,
		state:  protocol.StateDisconnected,
	}
}

// State reports the current connection state.
func (s *Session) State() protocol.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity reports what the hub declared at connect time.
func (s *Session) Identity() (protocol.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != protocol.StateConnected {
		return protocol.Identity{}, ErrNotConnected
	}
	return s.identity, nil
}

// Capabilities reports the negotiated capability set.
func (s *Session) Capabilities() (protocol.Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != protocol.StateConnected {
		return protocol.Capabilities{}, ErrNotConnected
	}
	return s.caps, nil
}

// Events exposes the hub's status and output stream.
func (s *Session) Events() (*transport.Stream, error) {
	tr, err := s.transport()
	if err != nil {
		return nil, err
	}
	return tr.Events(), nil
}

// Connect dials the hub and negotiates capabilities. A hub that cannot
// run what this client produces is rejected with ErrIncompatible before
// any program bytes move. Disconnect called mid-attempt voids it: the
// dial is cancelled and Connect returns ErrConnectAborted, releasing
// whatever it had opened.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != protocol.StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	dialCtx, cancel := context.WithCancel(ctx)
	s.state = protocol.StateConnecting
	s.attempt++
	attempt := s.attempt
	s.cancelConnect = cancel
	s.mu.Unlock()
	defer cancel()

	tr, err := s.dialer.Dial(dialCtx)
	if err != nil {
		s.abortAttempt(attempt)
		return fmt.Errorf("hub: dial: %w", err)
	}

	identity, caps, err := negotiate(dialCtx, tr, s.log)
	if err != nil {
		tr.Close()
		s.abortAttempt(attempt)
		return err
	}

	s.mu.Lock()
	if s.state != protocol.StateConnecting || s.attempt != attempt {
		// Disconnect raced the handshake; the attempt is void and its
		// transport must not outlive it.
		s.mu.Unlock()
		tr.Close()
		return ErrConnectAborted
	}
	s.tr = tr
	s.identity = identity
	s.caps = caps
	s.state = protocol.StateConnected
	s.cancelConnect = nil
	s.mu.Unlock()

	go s.watch(tr)

	s.log.Info("hub connected",
		"kind", fmt.Sprintf("0x%02X", byte(identity.Kind)),
		"firmware", identity.Firmware,
		"abi", int(caps.ABI))
	return nil
}

// negotiate queries identity and, where the firmware supports it, the
// capability document. Older firmware reports no ABI in its identity and
// answers no capability query; its ABI follows from the hub kind.
func negotiate(ctx context.Context, tr transport.Transport, log Logger) (protocol.Identity, protocol.Capabilities, error) {
	resp, err := tr.Send(ctx, protocol.EncodeCommand(protocol.CommandGetIdentity, nil), true)
	if err != nil {
		return protocol.Identity{}, protocol.Capabilities{}, fmt.Errorf("hub: query identity: %w", err)
	}
	identity, err := protocol.DecodeIdentity(resp)
	if err != nil {
		return protocol.Identity{}, protocol.Capabilities{}, err
	}

	if identity.ABI == protocol.ABIUnknown {
		caps := protocol.Capabilities{
			ABI:          identity.Kind.LegacyABI(),
			MpySupported: true,
		}
		log.Debug("legacy firmware, capability query skipped", "abi", int(caps.ABI))
		return identity, caps, nil
	}

	resp, err = tr.Send(ctx, protocol.EncodeCommand(protocol.CommandGetCapabilities, nil), true)
	if err != nil {
		return protocol.Identity{}, protocol.Capabilities{}, fmt.Errorf("hub: query capabilities: %w", err)
	}
	caps, err := protocol.ParseCapabilities(resp)
	if err != nil {
		return protocol.Identity{}, protocol.Capabilities{}, err
	}
	if !caps.MpySupported {
		return protocol.Identity{}, protocol.Capabilities{}, fmt.Errorf("%w: firmware rejects compiled programs", ErrIncompatible)
	}
	if !compile.Supports(caps.ABI) {
		return protocol.Identity{}, protocol.Capabilities{}, fmt.Errorf("%w: no compiler for bytecode abi %d", ErrIncompatible, int(caps.ABI))
	}
	return identity, caps, nil
}

// abortAttempt returns the session to Disconnected after a failed attempt,
// unless a Disconnect (or a newer attempt) already moved the state on.
func (s *Session) abortAttempt(attempt uint64) {
	s.mu.Lock()
	if s.attempt == attempt && s.state == protocol.StateConnecting {
		s.state = protocol.StateDisconnected
		s.cancelConnect = nil
	}
	s.mu.Unlock()
}

// watch flips the session to disconnected when the transport drops out
// from under it.
func (s *Session) watch(tr transport.Transport) {
	<-tr.Done()
	s.mu.Lock()
	if s.tr == tr {
		s.tr = nil
		s.state = protocol.StateDisconnected
		s.log.Info("hub disconnected")
	}
	s.mu.Unlock()
}

// Download encodes the program and writes it to hub storage. The size
// check runs before any write so an oversized program never invalidates
// the one already stored.
func (s *Session) Download(ctx context.Context, entries []bundle.Entry) error {
	tr, err := s.transport()
	if err != nil {
		return err
	}

	s.mu.Lock()
	caps := s.caps
	s.mu.Unlock()

	if len(entries) > 1 && !caps.Flags.Has(protocol.CapabilityBundleABI6) {
		return fmt.Errorf("%w: firmware cannot run multi-file programs", ErrIncompatible)
	}

	blob, err := bundle.Encode(entries)
	if err != nil {
		return err
	}
	if caps.MaxProgramSize > 0 && len(blob) > caps.MaxProgramSize {
		return fmt.Errorf("%w: %d bytes, hub limit %d", ErrProgramTooBig, len(blob), caps.MaxProgramSize)
	}

	chunkSize := caps.MaxWriteSize
	if chunkSize <= 0 {
		chunkSize = tr.MaxWriteSize()
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkSize > commandOverhead {
		chunkSize -= commandOverhead
	}

	// Zero size invalidates the stored program so a half-written
	// download never looks runnable.
	if _, err := tr.Send(ctx, protocol.EncodeWriteProgramMeta(0), true); err != nil {
		return fmt.Errorf("hub: invalidate stored program: %w", err)
	}

	for off := 0; off < len(blob); off += chunkSize {
		end := off + chunkSize
		if end > len(blob) {
			end = len(blob)
		}
		if _, err := tr.Send(ctx, protocol.EncodeWriteProgramData(uint32(off), blob[off:end]), false); err != nil {
			return fmt.Errorf("hub: write program data at %d: %w", off, err)
		}
	}

	// The final size write commits the download; its acknowledgement is
	// the hub's confirmation that everything landed.
	if _, err := tr.Send(ctx, protocol.EncodeWriteProgramMeta(uint32(len(blob))), true); err != nil {
		return fmt.Errorf("hub: commit program: %w", err)
	}

	s.log.Info("program downloaded", "size", len(blob), "files", len(entries))
	return nil
}

// Run starts the stored program. With wait set it blocks until the hub
// reports the program finished, observing exactly one running-to-stopped
// transition from this call onward, then allows trailing output to drain.
func (s *Session) Run(ctx context.Context, wait bool) error {
	tr, err := s.transport()
	if err != nil {
		return err
	}

	// Subscribe before starting so the transition cannot slip past.
	sub := tr.Events().Subscribe()
	defer tr.Events().Unsubscribe(sub)

	if _, err := tr.Send(ctx, protocol.EncodeCommand(protocol.CommandStartProgram, nil), true); err != nil {
		return fmt.Errorf("hub: start program: %w", err)
	}
	if !wait {
		return nil
	}

	if err := awaitRunning(ctx, tr, sub, true, startTimeout); err != nil {
		return err
	}
	if err := awaitRunning(ctx, tr, sub, false, 0); err != nil {
		return err
	}

	// The run flag clears before the last output frames arrive.
	timer := time.NewTimer(settleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-tr.Done():
		return transport.ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitRunning waits for the program-running flag to reach want, racing
// the status stream against transport loss and the caller's context.
// Snapshots already at the opposite value are stale and ignored. A zero
// timeout waits indefinitely.
func awaitRunning(ctx context.Context, tr transport.Transport, sub *transport.Subscription, want bool, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case flags := <-sub.Status():
			if flags.ProgramRunning() == want {
				return nil
			}
		case <-deadline:
			return ErrProgramStart
		case <-tr.Done():
			return transport.ErrDisconnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop halts the running program.
func (s *Session) Stop(ctx context.Context) error {
	tr, err := s.transport()
	if err != nil {
		return err
	}
	if _, err := tr.Send(ctx, protocol.EncodeCommand(protocol.CommandStopProgram, nil), true); err != nil {
		return fmt.Errorf("hub: stop program: %w", err)
	}
	return nil
}

// Disconnect tears the connection down. Closing the transport first wakes
// every operation blocked on it. Called while an attempt is still
// Connecting it cancels the dial and handshake; the Connect call unwinds
// with ErrConnectAborted. Safe to call in any state.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == protocol.StateConnecting {
		cancel := s.cancelConnect
		s.cancelConnect = nil
		s.state = protocol.StateDisconnected
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}
	tr := s.tr
	if tr == nil {
		s.state = protocol.StateDisconnected
		s.mu.Unlock()
		return nil
	}
	s.state = protocol.StateDisconnecting
	s.mu.Unlock()

	err := tr.Close()

	s.mu.Lock()
	if s.tr == tr {
		s.tr = nil
	}
	s.state = protocol.StateDisconnected
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("hub: close transport: %w", err)
	}
	return nil
}

// transport returns the live transport or ErrNotConnected.
func (s *Session) transport() (transport.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != protocol.StateConnected || s.tr == nil {
		return nil, ErrNotConnected
	}
	return s.tr, nil
}

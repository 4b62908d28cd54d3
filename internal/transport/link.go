package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbirch/hublink/internal/protocol"
)

// eol is the line terminator in program output fragments.
var eol = []byte("\r\n")

// link is the framed protocol core shared by both transport variants: the
// pending-response slot, the inbound demultiplexer and the event stream.
//
// The variant owns the raw channel and calls handleFrame from its single
// reader goroutine; link owns everything above raw bytes.
type link struct {
	log     Logger
	stream  *Stream
	done    *closeOnce
	timeout time.Duration

	// writeFrame performs one outbound write on the raw channel,
	// including any channel-level chunking. Set by the variant.
	writeFrame func(ctx context.Context, frame []byte) error

	// sendMu serializes requests: at most one may be outstanding, so a
	// second Send waits for the first slot to be consumed or abandoned.
	sendMu sync.Mutex

	// armCh hands the pending slot to the reader goroutine. Arming goes
	// through the reader so that every frame already inbound is
	// dispatched first: a response queued before the command was written
	// can never resolve the slot armed for it.
	armCh chan chan []byte

	// pendingMu guards the slot pointer. The reader goroutine arms and
	// resolves it; the sender disarms it after an abandoned wait.
	pendingMu sync.Mutex
	pending   chan []byte

	// stdoutBuf reassembles output fragments into lines. Touched only by
	// the reader goroutine.
	stdoutBuf []byte
}

func newLink() link {
	return link{
		log:     nopLogger{},
		stream:  NewStream(),
		done:    newCloseOnce(),
		timeout: responseTimeout,
		armCh:   make(chan chan []byte),
	}
}

// Events returns the device-wide event stream.
func (l *link) Events() *Stream {
	return l.stream
}

// Done is closed the moment the connection leaves the connected state.
func (l *link) Done() <-chan struct{} {
	return l.done.Done()
}

func (l *link) isClosed() bool {
	select {
	case <-l.done.Done():
		return true
	default:
		return false
	}
}

// Send writes one framed command and, when expectResponse is set, waits for
// the reply. The wait is a single select over the response arriving, the
// fixed timeout elapsing, the connection dropping and ctx cancellation;
// only the first outcome resolves the wait and the slot never leaks.
func (l *link) Send(ctx context.Context, frame []byte, expectResponse bool) ([]byte, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if l.isClosed() {
		return nil, ErrDisconnected
	}

	var slot chan []byte
	if expectResponse {
		slot = make(chan []byte, 1)
		// The reader accepts the slot only once its inbound queue is
		// drained, so nothing received before this point can answer
		// the request about to be written.
		select {
		case l.armCh <- slot:
		case <-l.done.Done():
			return nil, ErrDisconnected
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := l.write(ctx, frame); err != nil {
		l.disarm()
		return nil, err
	}
	if !expectResponse {
		return nil, nil
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case resp := <-slot:
		return resp, nil
	case <-timer.C:
		l.disarm()
		return nil, fmt.Errorf("%w: no response within %v", ErrTimeout, l.timeout)
	case <-l.done.Done():
		l.disarm()
		return nil, ErrDisconnected
	case <-ctx.Done():
		l.disarm()
		return nil, ctx.Err()
	}
}

// write runs the raw channel write in its own goroutine so the caller's
// wait can still be resolved by disconnection or cancellation even if the
// channel blocks.
func (l *link) write(ctx context.Context, frame []byte) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.writeFrame(ctx, frame)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		return nil
	case <-l.done.Done():
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// arm installs the pending slot. Called only from the reader goroutine,
// after it has dispatched every frame that was already queued.
func (l *link) arm(slot chan []byte) {
	l.pendingMu.Lock()
	l.pending = slot
	l.pendingMu.Unlock()
}

// disarm clears the pending slot after an abandoned wait. A response that
// raced the abandonment sits harmlessly in the buffered slot and is
// collected with it.
func (l *link) disarm() {
	l.pendingMu.Lock()
	l.pending = nil
	l.pendingMu.Unlock()
}

// handleFrame decodes one inbound frame and dispatches it. Called only from
// the variant's reader goroutine, so frames are processed in arrival order.
func (l *link) handleFrame(frame []byte) {
	msg, err := protocol.ParseMessage(frame)
	if err != nil {
		l.log.Warn("dropping undecodable frame", "error", err, "len", len(frame))
		return
	}

	switch msg.Type {
	case protocol.MessageResponse:
		l.resolve(msg.Payload)
	case protocol.MessageEvent:
		l.handleEvent(msg.Payload)
	case protocol.MessageCommand:
		// Commands only travel host to hub.
		l.log.Warn("dropping unexpected command frame from device")
	}
}

// resolve hands a response payload to the outstanding request, if any. A
// response with no outstanding request is a protocol anomaly: dropped, not
// fatal.
func (l *link) resolve(payload []byte) {
	l.pendingMu.Lock()
	slot := l.pending
	l.pending = nil
	l.pendingMu.Unlock()

	if slot == nil {
		l.log.Warn("dropping response with no outstanding request", "len", len(payload))
		return
	}
	slot <- payload
}

func (l *link) handleEvent(payload []byte) {
	kind, data, err := protocol.ParseEvent(payload)
	if err != nil {
		l.log.Warn("dropping undecodable event", "error", err)
		return
	}

	switch kind {
	case protocol.EventStatusReport:
		flags, err := protocol.DecodeStatusReport(data)
		if err != nil {
			l.log.Warn("dropping malformed status report", "error", err)
			return
		}
		l.stream.PublishStatus(flags)
	case protocol.EventStdout:
		l.appendStdout(data)
	default:
		l.log.Debug("ignoring unknown event kind", "kind", kind)
	}
}

// appendStdout buffers an output fragment and publishes every completed
// line. Lines lost to a stalled subscriber are logged so the loss is
// visible, not silent.
func (l *link) appendStdout(data []byte) {
	l.stdoutBuf = append(l.stdoutBuf, data...)
	for {
		idx := bytes.Index(l.stdoutBuf, eol)
		if idx < 0 {
			return
		}
		before := l.stream.Dropped()
		l.stream.PublishLine(string(l.stdoutBuf[:idx]))
		if dropped := l.stream.Dropped(); dropped > before {
			l.log.Warn("stdout line dropped, subscriber not draining", "dropped_total", dropped)
		}
		l.stdoutBuf = l.stdoutBuf[idx+len(eol):]
	}
}

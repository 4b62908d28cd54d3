package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nbirch/hublink/internal/protocol"
)

// fakeWireless is an in-memory characteristic: writes are recorded, inbound
// frames are injected through notify().
type fakeWireless struct {
	mu           sync.Mutex
	writes       [][]byte
	writeErr     error
	notifs       chan []byte
	disconnected chan struct{}
	closed       bool
}

func newFakeWireless() *fakeWireless {
	return &fakeWireless{
		notifs:       make(chan []byte, 16),
		disconnected: make(chan struct{}),
	}
}

func (f *fakeWireless) Write(_ context.Context, data []byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeWireless) Notifications() <-chan []byte { return f.notifs }

func (f *fakeWireless) Disconnected() <-chan struct{} { return f.disconnected }

func (f *fakeWireless) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWireless) notify(frame []byte) { f.notifs <- frame }

func (f *fakeWireless) dropConnection() { close(f.disconnected) }

func (f *fakeWireless) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestSendReceivesResponse(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev)
	defer tr.Close()

	done := make(chan struct{})
	var resp []byte
	var sendErr error
	go func() {
		defer close(done)
		resp, sendErr = tr.Send(context.Background(), protocol.EncodeCommand(protocol.CommandGetIdentity, nil), true)
	}()

	// Let the request arm the slot, then answer it.
	waitFor(t, func() bool { return dev.writeCount() == 1 })
	dev.notify(protocol.EncodeResponse([]byte{0x81, 0x00, 0x06}))

	<-done
	if sendErr != nil {
		t.Fatalf("Send() unexpected error: %v", sendErr)
	}
	if len(resp) != 3 || resp[0] != 0x81 {
		t.Errorf("Send() response = %X, want 81 00 06", resp)
	}
}

func TestSendTimesOutWithoutResponse(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev, WithResponseTimeout(30*time.Millisecond))
	defer tr.Close()

	start := time.Now()
	_, err := tr.Send(context.Background(), protocol.EncodeCommand(protocol.CommandGetIdentity, nil), true)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Send() error = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout took %v, want roughly the configured bound", time.Since(start))
	}
}

func TestSendLateResponseWins(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev, WithResponseTimeout(500*time.Millisecond))
	defer tr.Close()

	go func() {
		waitFor(t, func() bool { return dev.writeCount() == 1 })
		// Arrives well inside the bound.
		time.Sleep(50 * time.Millisecond)
		dev.notify(protocol.EncodeResponse([]byte{0x01}))
	}()

	resp, err := tr.Send(context.Background(), protocol.EncodeCommand(protocol.CommandStartProgram, nil), true)
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if len(resp) != 1 || resp[0] != 0x01 {
		t.Errorf("Send() response = %X, want 01", resp)
	}
}

func TestSendResolvedByDisconnectBeforeTimeout(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev, WithResponseTimeout(5*time.Second))
	defer tr.Close()

	go func() {
		waitFor(t, func() bool { return dev.writeCount() == 1 })
		dev.dropConnection()
	}()

	start := time.Now()
	_, err := tr.Send(context.Background(), protocol.EncodeCommand(protocol.CommandGetIdentity, nil), true)
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Send() error = %v, want ErrDisconnected", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("disconnect resolution took %v, must not wait out the response timeout", time.Since(start))
	}
}

func TestSendAfterCloseFailsImmediately(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev)
	tr.Close()

	if _, err := tr.Send(context.Background(), []byte{0x01, 0x00}, true); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send() error = %v, want ErrDisconnected", err)
	}
}

func TestUnmatchedResponseDropped(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev)
	defer tr.Close()

	// No outstanding request: a response frame is a protocol anomaly and
	// must be dropped without breaking the transport. It is already
	// queued when the next request arms its slot, and must not answer it.
	dev.notify(protocol.EncodeResponse([]byte{0xFF}))

	done := make(chan struct{})
	var resp []byte
	var sendErr error
	go func() {
		defer close(done)
		resp, sendErr = tr.Send(context.Background(), protocol.EncodeCommand(protocol.CommandGetIdentity, nil), true)
	}()

	waitFor(t, func() bool { return dev.writeCount() == 1 })
	dev.notify(protocol.EncodeResponse([]byte{0x42}))

	<-done
	if sendErr != nil {
		t.Fatalf("Send() unexpected error: %v", sendErr)
	}
	if len(resp) != 1 || resp[0] != 0x42 {
		t.Errorf("Send() response = %X, want the fresh response 42, not the stale one", resp)
	}
}

func TestSendWithoutResponseReturnsImmediately(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev)
	defer tr.Close()

	resp, err := tr.Send(context.Background(), protocol.EncodeCommand(protocol.CommandStopProgram, nil), false)
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if resp != nil {
		t.Errorf("Send() response = %X, want nil for fire-and-forget", resp)
	}
	if dev.writeCount() != 1 {
		t.Errorf("writes = %d, want 1", dev.writeCount())
	}
}

func TestStatusEventsReachSubscribers(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev)
	defer tr.Close()

	sub := tr.Events().Subscribe()
	defer tr.Events().Unsubscribe(sub)

	dev.notify(protocol.EncodeStatusEvent(protocol.StatusProgramRunning))

	select {
	case flags := <-sub.Status():
		if !flags.ProgramRunning() {
			t.Errorf("flags = %v, want program running set", flags)
		}
	case <-time.After(time.Second):
		t.Fatal("no status snapshot delivered")
	}
}

func TestStatusConflationKeepsNewest(t *testing.T) {
	stream := NewStream()
	sub := stream.Subscribe()

	stream.PublishStatus(protocol.StatusProgramRunning)
	stream.PublishStatus(0)

	select {
	case flags := <-sub.Status():
		if flags != 0 {
			t.Errorf("flags = %v, want the newest snapshot (0)", flags)
		}
	default:
		t.Fatal("no status snapshot buffered")
	}
}

func TestLateSubscriberSeesLastStatus(t *testing.T) {
	stream := NewStream()
	stream.PublishStatus(protocol.StatusBatteryLowWarning)

	sub := stream.Subscribe()
	select {
	case flags := <-sub.Status():
		if flags != protocol.StatusBatteryLowWarning {
			t.Errorf("flags = %v, want battery warning", flags)
		}
	default:
		t.Fatal("late subscriber did not receive the last snapshot")
	}
}

func TestStdoutFragmentsReassembledIntoLines(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev)
	defer tr.Close()

	sub := tr.Events().Subscribe()
	defer tr.Events().Unsubscribe(sub)

	// One line split across fragments, plus a second complete line and a
	// trailing partial that must stay buffered.
	dev.notify(protocol.EncodeEvent(protocol.EventStdout, []byte("hel")))
	dev.notify(protocol.EncodeEvent(protocol.EventStdout, []byte("lo\r\nworld\r\npart")))

	want := []string{"hello", "world"}
	for _, w := range want {
		select {
		case line := <-sub.Lines():
			if line != w {
				t.Errorf("line = %q, want %q", line, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("line %q not delivered", w)
		}
	}

	select {
	case line := <-sub.Lines():
		t.Errorf("unexpected extra line %q; partial fragment must stay buffered", line)
	case <-time.After(20 * time.Millisecond):
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func TestStdoutOverflowDropsOldestAndWarns(t *testing.T) {
	dev := newFakeWireless()
	log := &recordingLogger{}
	tr := NewBLE(dev, WithLogger(log))
	defer tr.Close()

	sub := tr.Events().Subscribe()
	defer tr.Events().Unsubscribe(sub)

	// One more line than the queue holds, none drained.
	for i := 0; i <= lineQueueSize; i++ {
		dev.notify(protocol.EncodeEvent(protocol.EventStdout, []byte(fmt.Sprintf("line-%d\r\n", i))))
	}

	waitFor(t, func() bool { return tr.Events().Dropped() > 0 })
	if got := tr.Events().Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if log.warnCount() == 0 {
		t.Error("overflow drop not logged; line loss must be visible")
	}

	// The oldest line was sacrificed, the rest stay in order.
	select {
	case line := <-sub.Lines():
		if line != "line-1" {
			t.Errorf("first surviving line = %q, want %q", line, "line-1")
		}
	case <-time.After(time.Second):
		t.Fatal("no line delivered")
	}
}

func TestRawWriteRacesDisconnect(t *testing.T) {
	dev := newFakeWireless()
	tr := NewBLE(dev)
	tr.Close()

	err := tr.WriteRaw(context.Background(), []byte{0x00}, true)
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("WriteRaw() error = %v, want ErrDisconnected", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nbirch/hublink/internal/infrastructure/mqtt"
	"github.com/nbirch/hublink/internal/protocol"
	"github.com/nbirch/hublink/internal/transport"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, payload: append([]byte(nil), payload...), retained: retained})
	return nil
}

func (f *fakeClient) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.msgs))
	copy(out, f.msgs)
	return out
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

func waitForMessages(t *testing.T, client *fakeClient, n int) []published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := client.published(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d published messages, got %d", n, len(client.published()))
	return nil
}

func TestPublisherForwardsStatus(t *testing.T) {
	client := &fakeClient{}
	p := &Publisher{client: client, topics: mqtt.NewTopics(""), hub: "robot-hub", qos: 1, log: nopLogger{}}

	stream := transport.NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, stream)

	// Give Run a moment to subscribe.
	time.Sleep(10 * time.Millisecond)
	stream.PublishStatus(protocol.StatusProgramRunning | protocol.StatusBatteryLowWarning)

	msgs := waitForMessages(t, client, 1)
	if msgs[0].topic != "hublink/status/robot-hub" {
		t.Errorf("topic = %q, want %q", msgs[0].topic, "hublink/status/robot-hub")
	}
	if !msgs[0].retained {
		t.Error("status message not retained; late subscribers must see current state")
	}

	var msg StatusMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !msg.ProgramRunning || !msg.BatteryLowWarning {
		t.Errorf("message = %+v, want running and battery warning set", msg)
	}
	if msg.Raw != uint32(protocol.StatusProgramRunning|protocol.StatusBatteryLowWarning) {
		t.Errorf("Raw = %d, want the full bit set", msg.Raw)
	}
}

func TestPublisherForwardsOutputLines(t *testing.T) {
	client := &fakeClient{}
	p := &Publisher{client: client, topics: mqtt.NewTopics(""), hub: "robot-hub", qos: 0, log: nopLogger{}}

	stream := transport.NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, stream)

	time.Sleep(10 * time.Millisecond)
	stream.PublishLine("sensor: 42")

	msgs := waitForMessages(t, client, 1)
	if msgs[0].topic != "hublink/stdout/robot-hub" {
		t.Errorf("topic = %q, want %q", msgs[0].topic, "hublink/stdout/robot-hub")
	}
	if msgs[0].retained {
		t.Error("output line published retained; lines are events, not state")
	}

	var msg OutputMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg.Line != "sensor: 42" {
		t.Errorf("Line = %q, want %q", msg.Line, "sensor: 42")
	}
}

func TestPublisherStopsOnContextCancel(t *testing.T) {
	client := &fakeClient{}
	p := &Publisher{client: client, topics: mqtt.NewTopics(""), hub: "robot-hub", log: nopLogger{}}

	stream := transport.NewStream()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, stream)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestHubID(t *testing.T) {
	id := protocol.Identity{Kind: protocol.HubKindPrimeHub}
	if got := HubID(id); got != "hub-81" {
		t.Errorf("HubID() = %q, want %q", got, "hub-81")
	}
}

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbirch/hublink/internal/infrastructure/mqtt"
	"github.com/nbirch/hublink/internal/protocol"
	"github.com/nbirch/hublink/internal/transport"
)

// StatusMessage is the JSON shape published on the hub status topic.
// Known flags get named fields; Raw carries the full bit set for
// subscribers that need flags this client does not name.
type StatusMessage struct {
	ProgramRunning    bool      `json:"program_running"`
	BatteryLowWarning bool      `json:"battery_low_warning"`
	BatteryShutdown   bool      `json:"battery_shutdown"`
	HighCurrent       bool      `json:"high_current"`
	ShutdownPending   bool      `json:"shutdown_pending"`
	Raw               uint32    `json:"raw"`
	Timestamp         time.Time `json:"timestamp"`
}

// OutputMessage is the JSON shape published on the hub output topic.
type OutputMessage struct {
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// publishClient is the slice of the MQTT client the publisher uses.
type publishClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the logging surface the publisher needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Publisher forwards one hub's event stream to the broker. Status
// snapshots are retained so late subscribers see the current state;
// output lines are not.
type Publisher struct {
	client publishClient
	topics mqtt.Topics
	hub    string
	qos    byte
	log    Logger
}

// NewPublisher prepares a publisher for the named hub.
func NewPublisher(client *mqtt.Client, topics mqtt.Topics, hub string, qos byte, log Logger) *Publisher {
	return &Publisher{client: client, topics: topics, hub: hub, qos: qos, log: log}
}

// Run forwards events until ctx is done or the stream's transport closes
// the subscription source. Publish failures are logged and skipped; a
// flaky broker must never stall the hub session.
func (p *Publisher) Run(ctx context.Context, stream *transport.Stream) {
	sub := stream.Subscribe()
	defer stream.Unsubscribe(sub)

	for {
		select {
		case flags := <-sub.Status():
			p.publishStatus(flags)
		case line := <-sub.Lines():
			p.publishLine(line)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) publishStatus(flags protocol.StatusFlag) {
	msg := StatusMessage{
		ProgramRunning:    flags.Has(protocol.StatusProgramRunning),
		BatteryLowWarning: flags.Has(protocol.StatusBatteryLowWarning),
		BatteryShutdown:   flags.Has(protocol.StatusBatteryShutdown),
		HighCurrent:       flags.Has(protocol.StatusHighCurrent),
		ShutdownPending:   flags.Has(protocol.StatusShutdownPending),
		Raw:               uint32(flags),
		Timestamp:         time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("status marshal failed", "error", err)
		return
	}
	if err := p.client.Publish(p.topics.HubStatus(p.hub), payload, p.qos, true); err != nil {
		p.log.Warn("status publish failed", "error", err)
	}
}

func (p *Publisher) publishLine(line string) {
	msg := OutputMessage{Line: line, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("output marshal failed", "error", err)
		return
	}
	if err := p.client.Publish(p.topics.HubOutput(p.hub), payload, p.qos, false); err != nil {
		p.log.Warn("output publish failed", "error", err)
	}
}

// HubID derives a topic-safe hub identifier from an identity.
func HubID(id protocol.Identity) string {
	return fmt.Sprintf("hub-%02x", byte(id.Kind))
}

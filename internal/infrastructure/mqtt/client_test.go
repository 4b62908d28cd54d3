package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/nbirch/hublink/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "hublink-test",
			TLS:      false,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)

	servers := opts.Servers
	if len(servers) != 1 {
		t.Fatalf("Servers = %d, want 1", len(servers))
	}
	if got := servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want %q", got, "tcp://127.0.0.1:1883")
	}
	if opts.ClientID != "hublink-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "hublink-test")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want %q", got, "ssl")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil, want configured")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)
	configureLWT(opts, NewTopics(""), cfg.Broker.ClientID)

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "hublink/system/status" {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, "hublink/system/status")
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("WillPayload = %q, want crash reason included", opts.WillPayload)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
}

func TestPublishValidation(t *testing.T) {
	// A zero-value client is never connected, so validation failures must
	// surface before any network activity.
	c := &Client{cfg: testConfig()}

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("hublink/status/hub", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	huge := make([]byte, maxPayloadSize+1)
	if err := c.Publish("hublink/status/hub", huge, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversize) error = %v, want ErrPublishFailed", err)
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name  string
		build func(Topics) string
		want  string
	}{
		{"system status", Topics.SystemStatus, "hublink/system/status"},
		{"hub status", func(tp Topics) string { return tp.HubStatus("robot-hub") }, "hublink/status/robot-hub"},
		{"hub output", func(tp Topics) string { return tp.HubOutput("robot-hub") }, "hublink/stdout/robot-hub"},
	}
	topics := NewTopics("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build(topics); got != tt.want {
				t.Errorf("topic = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTopicsCustomPrefix(t *testing.T) {
	topics := NewTopics("factory/floor2")
	if got := topics.HubStatus("crane"); got != "factory/floor2/status/crane" {
		t.Errorf("topic = %q, want prefixed", got)
	}
}

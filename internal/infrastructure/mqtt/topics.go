package mqtt

import "fmt"

// DefaultTopicPrefix is the base for all hublink topics when the config
// leaves telemetry.topic_prefix unset.
const DefaultTopicPrefix = "hublink"

// Topics provides builders for hublink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics("hublink")
//	statusTopic := topics.HubStatus("robot-hub")
//	// Returns: "hublink/status/robot-hub"
type Topics struct {
	prefix string
}

// NewTopics creates a topic builder with the given prefix. An empty prefix
// falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// SystemStatus returns the topic for hublink's own online/offline status.
//
// Example: hublink/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix)
}

// HubStatus returns the topic for a hub's status flag snapshots.
//
// Example: hublink/status/robot-hub
func (t Topics) HubStatus(hub string) string {
	return fmt.Sprintf("%s/status/%s", t.prefix, hub)
}

// HubOutput returns the topic for a hub's program output lines.
//
// Example: hublink/stdout/robot-hub
func (t Topics) HubOutput(hub string) string {
	return fmt.Sprintf("%s/stdout/%s", t.prefix, hub)
}

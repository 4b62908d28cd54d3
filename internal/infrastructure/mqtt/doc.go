// Package mqtt provides MQTT client connectivity for hublink telemetry.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// hublink publishes hub status snapshots and program output to the broker
// so dashboards and automations can observe a running hub without holding
// their own connection to it.
//
//	hublink → MQTT Broker → subscribers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Telemetry.TopicPrefix)
//	client, err := mqtt.Connect(cfg.Telemetry.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Publish(topics.HubStatus("robot-hub"), []byte(`{"program_running":true}`), 1, true)
package mqtt

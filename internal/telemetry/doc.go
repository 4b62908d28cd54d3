// Package telemetry publishes hub status snapshots and program output to
// the MQTT broker as typed JSON messages, so dashboards and automations
// can observe a running hub without holding their own hub connection.
package telemetry

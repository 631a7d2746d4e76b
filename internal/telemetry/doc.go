// Package telemetry forwards what the monitor observes to MQTT and InfluxDB.
//
// Announcer publishes retained device status and election messages to the
// broker. It queues messages so the monitor never waits on the network and
// drains the queue as a worker. Recorder writes device health and election
// points to InfluxDB through the client's non-blocking write API.
//
// Neither sink carries coordinates. Position data is only served to local
// socket clients.
package telemetry

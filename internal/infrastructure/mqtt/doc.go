// Package mqtt wraps the Eclipse Paho client for sunneed.
//
// The daemon uses MQTT in two directions:
//   - sensor devices subscribe to a position feed topic and keep the latest
//     reading for the monitor to probe;
//   - the telemetry announcer publishes retained device status transitions
//     and the currently elected provider under sunneed/.
//
// A retained sunneed/system/status message reports online/offline, with an
// LWT covering crashes.
//
// MQTT is optional; with mqtt.enabled=false no client is created and sensor
// devices fail to build.
package mqtt

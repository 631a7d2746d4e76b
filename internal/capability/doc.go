// Package capability implements the per-kind probes behind sunneed devices.
//
//   - manual: a fixed position from the device params
//   - gps: NMEA 0183 GGA sentences read from a serial device or file
//   - netgeo: a MaxMind GeoIP City lookup of a configured address
//   - sensor: the latest JSON position published to an MQTT topic
//
// A probe that works but has nothing to report (no fix, no GeoIP entry,
// stale feed) returns an error wrapping device.ErrNoSignal. Every other
// error means the device itself is misbehaving.
package capability

// Package influxdb records device health and provider elections in
// InfluxDB using the official influxdb-client-go v2 library.
//
// Two measurements are written:
//   - device_status: one point per probe with status and quality
//   - pip_election: one point whenever the elected provider changes
//
// Positions are never written; the daemon keeps no history of where it was.
//
// Writes are non-blocking and batched per batch_size / flush_interval.
// Asynchronous write failures are delivered to the SetOnError callback.
package influxdb

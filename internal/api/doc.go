// Package api implements the local HTTP status API for sunneed.
//
// This package provides:
//   - GET /api/v1/health: status, version, uptime and worker stats
//   - GET /api/v1/position: the current PIP (503 when unavailable)
//   - GET /api/v1/devices and /api/v1/devices/{id}: registry states
//   - GET /api/v1/workers: dispatcher stats
//   - GET /api/v1/position/stream: WebSocket stream of elections
//   - Middleware stack (request ID, logging, recovery)
//
// # Transport
//
// The server only listens on a Unix domain socket (api.socket_path). It is a
// read-only view for operators and local tooling; the line protocol served by
// the listener package remains the client interface.
//
//	curl --unix-socket /run/sunneed/api.sock http://localhost/api/v1/position
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

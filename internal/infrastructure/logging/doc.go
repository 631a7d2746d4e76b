// Package logging provides structured logging for the sunneed daemon.
//
// This package wraps Go's standard log/slog package so every component
// logs through the same handler with the same default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Per-component child loggers via Component
//   - Printf-style Logf for collaborators that only carry a level and a message
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stderr, stdout
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("monitor").Info("Acquired PIP", "provider", name)
//
// Never log device coordinates at info level or above; position data is only
// served to local socket clients.
package logging

// Package logging provides structured logging for mirrorctl.
//
// This package wraps Go's standard log/slog package so that the CLI, the
// transport workers and the telemetry sinks all log with the same
// default fields (service, version) and level filtering.
//
// The operational log produced here is separate from the bounded,
// human-readable event trail each transport worker keeps for display.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("worker started", "transport", "serial")
//	logger.Error("connect failed", "error", err)
//
// Never log broker passwords or InfluxDB tokens.
package logging

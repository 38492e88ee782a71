// Package logging provides structured logging for the mesh bridge.
//
// It wraps log/slog so every component logs the same way:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("scheduler").Info("rotation started", "entities", 12)
//
// Never log broker passwords, InfluxDB tokens or JWTs.
package logging

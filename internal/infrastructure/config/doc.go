// Package config loads and validates the mesh bridge configuration.
//
// Configuration is read once at startup and treated as immutable afterwards:
//   - Defaults are applied first
//   - The YAML file overrides defaults
//   - MESHBRIDGE_* environment variables override the file
//   - Validate rejects out-of-range polling settings and bad broker details
//
// Credentials (broker passwords, InfluxDB token, JWT secret) should be
// supplied through environment variables rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.TopicPrefix, cfg.PollInterval())
package config

// Package config provides 12-factor configuration for the client runtime.
//
// Configuration is loaded from environment variables with sensible
// defaults. A YAML or TOML file may be layered on top for local
// development.
//
// Configuration Sections:
//   - Backend: REST collaborator base URL, API prefix, timeout
//   - Channel: push channel path, connect/write timeouts, keepalive
//   - Diagnostics: local diagnostics HTTP surface
//   - Logging: log level and output format
//   - RateLimit: outbound request and diagnostics limits
//   - Retry: REST retries and circuit breaker thresholds
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	client := backend.New(cfg.Backend, cfg.Retry, cfg.RateLimit, logger)
//
// Environment Variables:
//   - BACKEND_URL, BACKEND_API_PREFIX, BACKEND_TIMEOUT
//   - CHANNEL_PATH, CHANNEL_CONNECT_TIMEOUT, CHANNEL_KEEPALIVE
//   - DIAG_ENABLED, DIAG_HOST, DIAG_PORT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RETRY_MAX, BREAKER_FAILURES
package config

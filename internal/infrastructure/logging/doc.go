// Package logging provides structured logging using uber/zap.
//
// Two modes are offered:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Runtime components receive a *zap.Logger and name themselves, so every
// entry carries the component that produced it (dispatcher, ingress,
// session, generation, channel, backend).
//
// Example Usage:
//
//	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
//	dispatcher := events.NewDispatcher(logger.Component("dispatcher"))
//	logger.Warn("No handlers registered", zap.String("type", "status"))
package logging

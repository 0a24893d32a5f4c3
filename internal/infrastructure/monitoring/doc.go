/*
Package monitoring provides Prometheus metrics for the client runtime.

# Overview

Every Metrics value owns a private registry so that several runtimes, and
the package tests, can live in one process. A nil *Metrics is accepted by
every recording method, which lets components take metrics optionally via
their WithMetrics builders.

# Tracked

- Dispatcher: events per type, unhandled events, handler errors, malformed frames
- Push channel: open connections, failures by reason, frames by direction
- Sessions: registered instances by kind
- Generation: state transitions, rejected progress events
- Backend: REST calls by operation and outcome, call latency
- Diagnostics HTTP: requests and latency

# Usage

	metrics := monitoring.NewMetrics()
	dispatcher := events.NewDispatcher(logger).WithMetrics(metrics)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring

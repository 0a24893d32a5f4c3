// Package http serves the local diagnostics API of the client runtime:
// health, Prometheus metrics, dispatcher statistics, registry tables,
// session and generation views, cached status and frame injection.
package http

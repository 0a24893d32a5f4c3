// Package server assembles the diagnostics HTTP server: gin router,
// middleware chain and gzip transport.
package server

// Package middleware holds the gin middleware of the diagnostics server.
package middleware

// Package app wires the client runtime: dispatcher and ingress, session
// registry and factory, REST client and status cache, push channels,
// generation runners and the diagnostics server.
package app

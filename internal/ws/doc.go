// Package ws implements the client side of the server push channel.
//
// A Channel dials a gorilla websocket endpoint, feeds every inbound frame
// to the event ingress from a single read goroutine and sends outbound
// frames under a write lock. Optional keepalive pings run on a ticker.
// Connect and Close are idempotent; an unexpected drop is reported
// through Options.OnDisconnect.
package ws

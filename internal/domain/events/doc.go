// Package events turns pushed frames into typed events and fans them out.
//
// Frames arrive as JSON objects tagged with a "type" field. Ingress parses
// them with sonic, decodes the payload into one of the closed set of
// Payload structs and hands an Event to the Dispatcher. Handlers are kept
// per type in registration order; a failing or panicking handler never
// prevents the others from running.
package events

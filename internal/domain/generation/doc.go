// Package generation tracks index-generation runs.
//
// A Machine is registered on the event dispatcher and moves through
// READY, PARSER, GENERATION and COMPLETED, or to ERROR from any
// non-terminal state. Progress events with an unknown state or a value
// outside [0,100] are rejected and never rendered. Accepted events update
// the indicator and append a line to the surface chosen by the frame
// category. Reaching a terminal state closes the run channel and drops
// the cached status of the resource, once per run.
//
// Runner triggers a run over REST and owns the run's channel.
package generation

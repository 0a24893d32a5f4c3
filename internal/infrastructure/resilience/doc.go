/*
Package resilience provides the circuit breaker that guards REST calls.

When the backend keeps failing, further calls fail fast with ErrCircuitOpen
instead of queueing behind timeouts; the UI surfaces a LoadError right away
and the session stays usable but empty.

# Usage

	breaker := resilience.New("backend", resilience.Settings{
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		IsFailure: backend.IsServerFailure,
	})

	transcript, err := resilience.Call(ctx, breaker, func(ctx context.Context) (*Transcript, error) {
		return fetch(ctx, id)
	})

# Pattern

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience

// Package backend is the REST collaborator of the client runtime.
//
// Client wraps resty over a retryablehttp transport, waits on an x/time
// rate limiter and guards every call with a circuit breaker that only
// counts server failures. It implements the session backend and the
// generation trigger. StatusCache keeps the last data/storage status per
// resource and coalesces concurrent fetches.
//
// Endpoints, relative to the configured URL and API prefix:
//
//	GET  /sessions/{id}
//	GET  /sessions?scope=&browsing_id=
//	POST /browsing
//	POST /sessions/{id}/messages
//	PUT  /sessions/{id}
//	POST /generation/{resource}
//	GET  /status/{resource}
package backend

// Package registry is the single store of session identity.
//
// Manager keeps three tables guarded by one lock:
//   - scope to session id
//   - user to focused session id
//   - session id to live instance
//
// Sessions never register themselves. The session factory is the only
// caller of Claim, which performs get-or-create atomically so that two
// concurrent requests for one scope observe the same instance.
//
// Example Usage:
//
//	reg := registry.NewManager(logger)
//	entry, created, err := reg.Claim("docs", func() (registry.Entry, error) {
//		return newSession("docs"), nil
//	})
package registry

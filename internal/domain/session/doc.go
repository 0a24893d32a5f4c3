// Package session implements the live and history session variants and
// the factory that owns their registration.
//
// Both variants share a core holding the message log, metadata,
// capabilities and a per-instance listener registry. LiveSession is
// writable and owns the push channel of its scope. HistorySession only
// reads: it lists stored sessions through a lazily created browsing
// handle and loads a selected transcript.
//
// Sessions never register themselves. Factory.LiveSession and
// Factory.HistorySession claim the scope in the registry atomically, so
// every caller for a scope receives the same instance.
package session

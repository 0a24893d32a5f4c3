package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
)

// ErrEmptyScope is returned when a mutation names no scope.
var ErrEmptyScope = errors.New("scope is required")

// Entry is a registered session instance.
type Entry interface {
	// ID returns the bound session id, or "" while none is bound.
	ID() string
}

// labeled entries report the label used for the active sessions gauge.
type labeled interface {
	Label() string
}

// Status reports the size of each table.
type Status struct {
	Scopes    int `json:"scopes"`
	Focused   int `json:"focused"`
	Instances int `json:"instances"`
}

// Manager is the only reader and writer of the three session tables:
// scope to session id, user to focused session id, and session id to
// live instance. It holds no business logic.
type Manager struct {
	mu        sync.RWMutex
	scopes    map[string]string
	focus     map[string]string
	instances map[string]Entry

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewManager creates an empty registry.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		scopes:    make(map[string]string),
		focus:     make(map[string]string),
		instances: make(map[string]Entry),
		logger:    logging.OrNop(logger).Named("registry"),
	}
}

// WithMetrics adds metrics tracking to the registry
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// SessionFor returns the session id bound to scope.
func (m *Manager) SessionFor(scope string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.scopes[scope]
	if !ok || isUnbound(key) {
		return "", false
	}
	return key, true
}

// InstanceFor returns the instance registered for scope, bound or not.
func (m *Manager) InstanceFor(scope string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.scopes[scope]
	if !ok {
		return nil, false
	}
	entry, ok := m.instances[key]
	return entry, ok
}

// Instance returns the instance registered under a session id.
func (m *Manager) Instance(sessionID string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.instances[sessionID]
	return entry, ok
}

// Bind maps scope to sessionID and stores instance under it. A mapping
// already present for scope is overwritten. If a different instance was
// registered for the scope it is removed and returned so the caller can
// dispose of it.
func (m *Manager) Bind(scope, sessionID string, instance Entry) (Entry, error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}
	if instance == nil {
		return nil, fmt.Errorf("bind %s: nil instance", scope)
	}

	key := sessionID
	if key == "" {
		key = unboundKey(scope)
	}

	evicted := func() Entry {
		m.mu.Lock()
		defer m.mu.Unlock()

		prev, ok := m.currentLocked(scope)
		m.storeLocked(scope, key, instance)
		if ok && prev != instance {
			return prev
		}
		return nil
	}()

	m.logger.Debug("Session bound",
		zap.String("scope", scope),
		zap.String("session_id", sessionID),
		zap.Bool("evicted", evicted != nil),
	)
	m.publishCounts()
	return evicted, nil
}

// Claim returns the instance registered for scope, or calls create and
// registers its result while the registry lock is held. Concurrent
// callers for the same scope therefore always receive one instance.
// The boolean reports whether create ran.
func (m *Manager) Claim(scope string, create func() (Entry, error)) (Entry, bool, error) {
	if scope == "" {
		return nil, false, ErrEmptyScope
	}

	entry, key, created, err := func() (Entry, string, bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if entry, ok := m.currentLocked(scope); ok {
			return entry, "", false, nil
		}
		entry, err := build(scope, create)
		if err != nil {
			return nil, "", false, err
		}
		key := entry.ID()
		if key == "" {
			key = unboundKey(scope)
		}
		m.storeLocked(scope, key, entry)
		return entry, key, true, nil
	}()
	if err != nil || !created {
		return entry, false, err
	}

	m.logger.Debug("Session claimed", zap.String("scope", scope), zap.String("key", key))
	m.publishCounts()
	return entry, true, nil
}

// Rebind makes sessionID the bound id of scope in one locked step. The
// registered instance is kept when its id already matches or when adopt
// accepts it; adopt may bind the id onto the instance itself. Otherwise
// create builds a replacement and the previous instance is returned for
// disposal. A nil create leaves the scope untouched when adopt declines.
// Both callbacks run under the registry lock.
func (m *Manager) Rebind(scope, sessionID string, adopt func(Entry) bool, create func() (Entry, error)) (entry, evicted Entry, err error) {
	if scope == "" {
		return nil, nil, ErrEmptyScope
	}
	if sessionID == "" {
		return nil, nil, fmt.Errorf("rebind %s: empty session id", scope)
	}

	changed := false
	entry, evicted, err = func() (Entry, Entry, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		current, ok := m.currentLocked(scope)
		switch {
		case ok && current.ID() == sessionID:
			return current, nil, nil
		case ok && adopt != nil && adopt(current):
			m.storeLocked(scope, sessionID, current)
			changed = true
			return current, nil, nil
		case create == nil:
			return current, nil, nil
		}

		replacement, err := build(scope, create)
		if err != nil {
			return nil, nil, err
		}
		m.storeLocked(scope, sessionID, replacement)
		changed = true
		if ok {
			return replacement, current, nil
		}
		return replacement, nil, nil
	}()
	if err != nil || !changed {
		return entry, evicted, err
	}

	m.logger.Debug("Session rebound",
		zap.String("scope", scope),
		zap.String("session_id", sessionID),
		zap.Bool("evicted", evicted != nil),
	)
	m.publishCounts()
	return entry, evicted, nil
}

func build(scope string, create func() (Entry, error)) (Entry, error) {
	entry, err := create()
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", scope, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("create session for %s: nil instance", scope)
	}
	return entry, nil
}

func (m *Manager) currentLocked(scope string) (Entry, bool) {
	key, ok := m.scopes[scope]
	if !ok {
		return nil, false
	}
	entry, ok := m.instances[key]
	return entry, ok
}

// storeLocked points scope at key, dropping the instance stored under the
// previous key.
func (m *Manager) storeLocked(scope, key string, entry Entry) {
	if prevKey, ok := m.scopes[scope]; ok && prevKey != key {
		delete(m.instances, prevKey)
	}
	m.scopes[scope] = key
	m.instances[key] = entry
}

// Focus records the session a user is looking at.
func (m *Manager) Focus(user, sessionID string) {
	m.mu.Lock()
	m.focus[user] = sessionID
	m.mu.Unlock()
}

// Focused returns the session a user last focused.
func (m *Manager) Focused(user string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessionID, ok := m.focus[user]
	return sessionID, ok
}

// Release removes scope and its instance and returns the instance.
func (m *Manager) Release(scope string) (Entry, bool) {
	m.mu.Lock()
	key, ok := m.scopes[scope]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	entry := m.instances[key]
	delete(m.scopes, scope)
	delete(m.instances, key)
	for user, focused := range m.focus {
		if focused == key {
			delete(m.focus, user)
		}
	}
	m.mu.Unlock()

	m.publishCounts()
	return entry, entry != nil
}

// Clear empties every table and returns the removed instances.
func (m *Manager) Clear() []Entry {
	m.mu.Lock()
	entries := make([]Entry, 0, len(m.instances))
	for _, entry := range m.instances {
		entries = append(entries, entry)
	}
	m.scopes = make(map[string]string)
	m.focus = make(map[string]string)
	m.instances = make(map[string]Entry)
	m.mu.Unlock()

	m.logger.Info("Registry cleared", zap.Int("instances", len(entries)))
	m.publishCounts()
	return entries
}

// Status returns the table sizes.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		Scopes:    len(m.scopes),
		Focused:   len(m.focus),
		Instances: len(m.instances),
	}
}

// Scopes returns the registered scopes, sorted.
func (m *Manager) Scopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scopes := make([]string, 0, len(m.scopes))
	for scope := range m.scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

func (m *Manager) publishCounts() {
	if m.metrics == nil {
		return
	}

	counts := map[string]int{"live": 0, "history": 0}
	m.mu.RLock()
	for _, entry := range m.instances {
		kind := "unknown"
		if l, ok := entry.(labeled); ok {
			kind = l.Label()
		}
		counts[kind]++
	}
	m.mu.RUnlock()

	for kind, count := range counts {
		m.metrics.SetSessionsActive(kind, count)
	}
}

const unboundPrefix = "unbound:"

func unboundKey(scope string) string {
	return unboundPrefix + scope
}

func isUnbound(key string) bool {
	return strings.HasPrefix(key, unboundPrefix)
}

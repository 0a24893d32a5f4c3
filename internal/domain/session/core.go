package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/shared/id"
)

// core holds the state shared by both session variants: the message log,
// metadata, capability set and listener registry.
type core struct {
	mu           sync.RWMutex
	id           string
	scope        string
	kind         Kind
	messages     []Message
	metadata     map[string]string
	caps         map[Capability]bool
	active       bool
	disposed     bool
	createdAt    time.Time
	lastActivity time.Time

	listeners *listeners
	backend   Backend
	logger    *zap.Logger
	now       func() time.Time
}

func newCore(kind Kind, scope, sessionID string, caps []Capability, backend Backend, logger *zap.Logger) *core {
	c := &core{
		id:        sessionID,
		scope:     scope,
		kind:      kind,
		metadata:  make(map[string]string),
		caps:      make(map[Capability]bool, len(caps)),
		listeners: newListeners(),
		backend:   backend,
		logger:    logger,
		now:       time.Now,
	}
	for _, capability := range caps {
		c.caps[capability] = true
	}
	c.createdAt = c.now()
	c.lastActivity = c.createdAt
	return c
}

// ID returns the bound session id, or "" when none is bound yet.
func (c *core) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Scope returns the logical scope the session belongs to.
func (c *core) Scope() string {
	return c.scope
}

// Kind returns the session variant.
func (c *core) Kind() Kind {
	return c.kind
}

// Label returns the kind as the registry gauge label.
func (c *core) Label() string {
	return string(c.kind)
}

// Messages returns a copy of the log.
func (c *core) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.messages...)
}

// Metadata returns a copy of the metadata map.
func (c *core) Metadata() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// SetMetadata sets one metadata key, replacing any previous value.
func (c *core) SetMetadata(key, value string) {
	c.mu.Lock()
	c.metadata[key] = value
	c.mu.Unlock()
}

// Capabilities returns the capability set, sorted.
func (c *core) Capabilities() []Capability {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Capability, 0, len(c.caps))
	for capability := range c.caps {
		out = append(out, capability)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidatePermissions returns a *PermissionError when op is not allowed.
func (c *core) ValidatePermissions(op Capability) error {
	c.mu.RLock()
	allowed := c.caps[op]
	c.mu.RUnlock()

	if !allowed {
		return &PermissionError{Op: op, Kind: c.kind, Scope: c.scope}
	}
	return nil
}

// Subscribe attaches a listener and returns its detach function.
func (c *core) Subscribe(kind ListenerKind, listener Listener) func() {
	return c.listeners.add(kind, listener)
}

// IsActive reports whether the session is currently active.
func (c *core) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *core) setActive(active bool) {
	c.mu.Lock()
	c.active = active
	c.mu.Unlock()
}

func (c *core) bindID(sessionID string) {
	c.mu.Lock()
	c.id = sessionID
	c.mu.Unlock()
}

func (c *core) isDisposed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disposed
}

// appendMessage normalizes msg, appends it and notifies listeners.
func (c *core) appendMessage(msg Message) (Message, error) {
	now := c.now()
	if msg.ID == "" {
		msg.ID = id.NewMessageID().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.Timestamp = msg.Timestamp.UTC()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return Message{}, ErrDisposed
	}
	c.messages = append(c.messages, msg)
	c.lastActivity = now
	sessionID := c.id
	c.mu.Unlock()

	c.listeners.emit(Notification{
		Kind:      MessageAdded,
		SessionID: sessionID,
		Scope:     c.scope,
		Message:   &msg,
	})
	return msg, nil
}

// loadTranscript fetches the bound transcript and replaces the log.
func (c *core) loadTranscript(ctx context.Context, sessionID string) (*Transcript, error) {
	transcript, err := c.backend.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, &LoadError{Op: "load transcript", Scope: c.scope, SessionID: sessionID, Err: err}
	}

	c.mu.Lock()
	c.messages = append([]Message(nil), transcript.Messages...)
	c.metadata = make(map[string]string, len(transcript.Metadata))
	for k, v := range transcript.Metadata {
		c.metadata[k] = v
	}
	c.lastActivity = c.now()
	c.mu.Unlock()

	return transcript, nil
}

func (c *core) listSessions(ctx context.Context, browsingID string) ([]Summary, error) {
	sessions, err := c.backend.ListSessions(ctx, c.scope, browsingID)
	if err != nil {
		return nil, &LoadError{Op: "list sessions", Scope: c.scope, Err: err}
	}
	return sessions, nil
}

// transcript snapshots the session for persistence.
func (c *core) transcript() Transcript {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Transcript{
		ID:       c.id,
		Scope:    c.scope,
		Messages: append([]Message(nil), c.messages...),
		Metadata: copyMap(c.metadata),
	}
}

// save persists the snapshot when an id is bound.
func (c *core) save(ctx context.Context) error {
	snapshot := c.transcript()
	if snapshot.ID == "" {
		return &SaveError{Op: "save", Scope: c.scope, Err: ErrNoSessionID}
	}
	if err := c.backend.SaveSession(ctx, snapshot); err != nil {
		return &SaveError{Op: "save", Scope: c.scope, SessionID: snapshot.ID, Err: err}
	}

	c.listeners.emit(Notification{Kind: Saved, SessionID: snapshot.ID, Scope: c.scope})
	return nil
}

func (c *core) health(channelOpen bool) Health {
	caps := c.Capabilities()

	c.mu.RLock()
	defer c.mu.RUnlock()

	return Health{
		ID:           c.id,
		Scope:        c.scope,
		Kind:         c.kind,
		Active:       c.active,
		Messages:     len(c.messages),
		Capabilities: caps,
		ChannelOpen:  channelOpen,
		CreatedAt:    c.createdAt,
		LastActivity: c.lastActivity,
	}
}

// dispose clears the log, detaches listeners and marks the core unusable.
// It reports false when the core was already disposed.
func (c *core) dispose() bool {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false
	}
	c.disposed = true
	c.active = false
	c.messages = nil
	c.mu.Unlock()

	c.listeners.clear()
	return true
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

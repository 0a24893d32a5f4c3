package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/domain/registry"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
)

const historyPrefix = "history/"

// HistoryScope is the registry key used for the history view of scope.
func HistoryScope(scope string) string {
	return historyPrefix + scope
}

// Factory creates sessions and registers them. It is the only writer of
// scope mappings in the registry.
type Factory struct {
	registry       *registry.Manager
	dispatcher     *events.Dispatcher
	backend        Backend
	opener         ChannelOpener
	connectTimeout time.Duration
	logger         *zap.Logger
}

// FactoryConfig wires a Factory.
type FactoryConfig struct {
	Registry       *registry.Manager
	Dispatcher     *events.Dispatcher
	Backend        Backend
	Opener         ChannelOpener
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// NewFactory creates a session factory.
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{
		registry:       cfg.Registry,
		dispatcher:     cfg.Dispatcher,
		backend:        cfg.Backend,
		opener:         cfg.Opener,
		connectTimeout: cfg.ConnectTimeout,
		logger:         logging.OrNop(cfg.Logger).Named("sessions"),
	}
}

// LiveSession returns the live session of scope, creating and
// registering it on first access. A non-empty sessionID binds an unbound
// instance; if the scope is bound to a different id the old instance is
// replaced and disposed.
func (f *Factory) LiveSession(scope, sessionID string) (*LiveSession, error) {
	entry, created, err := f.registry.Claim(scope, func() (registry.Entry, error) {
		return f.newLive(scope, sessionID)
	})
	if err != nil {
		return nil, err
	}

	live, ok := entry.(*LiveSession)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWrongKind, scope)
	}
	if created || sessionID == "" || live.ID() == sessionID {
		return live, nil
	}

	entry, evicted, err := f.registry.Rebind(scope, sessionID, adoptUnbound(sessionID), func() (registry.Entry, error) {
		return f.newLive(scope, sessionID)
	})
	if err != nil {
		return nil, err
	}
	f.disposeEvicted(scope, evicted)

	live, ok = entry.(*LiveSession)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWrongKind, scope)
	}
	return live, nil
}

// adoptUnbound binds sessionID onto a live session that has no id yet.
// It runs under the registry lock.
func adoptUnbound(sessionID string) func(registry.Entry) bool {
	return func(entry registry.Entry) bool {
		live, ok := entry.(*LiveSession)
		if !ok || live.ID() != "" {
			return false
		}
		live.bindID(sessionID)
		return true
	}
}

// HistorySession returns the history session of scope, creating and
// registering it on first access.
func (f *Factory) HistorySession(scope string) (*HistorySession, error) {
	key := HistoryScope(scope)
	entry, _, err := f.registry.Claim(key, func() (registry.Entry, error) {
		f.logger.Debug("Creating history session", zap.String("scope", scope))
		return NewHistorySession(HistoryOptions{
			Scope:   scope,
			Backend: f.backend,
			Logger:  f.logger,
		}), nil
	})
	if err != nil {
		return nil, err
	}

	history, ok := entry.(*HistorySession)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWrongKind, key)
	}
	return history, nil
}

// Focus records the session bound to scope as the user's focus.
func (f *Factory) Focus(user, scope string) error {
	sessionID, ok := f.registry.SessionFor(scope)
	if !ok {
		return fmt.Errorf("focus %s: %w", scope, ErrNoSessionID)
	}
	f.registry.Focus(user, sessionID)
	return nil
}

// Lookup returns the registered session of scope without creating one.
func (f *Factory) Lookup(scope string) (Session, bool) {
	entry, ok := f.registry.InstanceFor(scope)
	if !ok {
		return nil, false
	}
	s, ok := entry.(Session)
	return s, ok
}

// Release unregisters and disposes the session of scope.
func (f *Factory) Release(scope string) error {
	entry, ok := f.registry.Release(scope)
	if !ok {
		return nil
	}
	if s, ok := entry.(Session); ok {
		return s.Dispose()
	}
	return nil
}

// DisposeAll empties the registry and disposes every session.
func (f *Factory) DisposeAll() {
	for _, entry := range f.registry.Clear() {
		if s, ok := entry.(Session); ok {
			if err := s.Dispose(); err != nil {
				f.logger.Warn("Dispose failed", zap.String("scope", s.Scope()), zap.Error(err))
			}
		}
	}
}

func (f *Factory) newLive(scope, sessionID string) (*LiveSession, error) {
	live := NewLiveSession(LiveOptions{
		Scope:          scope,
		SessionID:      sessionID,
		Backend:        f.backend,
		Opener:         f.opener,
		ConnectTimeout: f.connectTimeout,
		OnConnectError: func(err error) { f.reportConnectError(scope, err) },
		Logger:         f.logger,
	})
	if err := f.attach(live); err != nil {
		_ = live.Dispose()
		return nil, err
	}

	f.logger.Debug("Creating live session",
		zap.String("scope", scope),
		zap.String("session_id", sessionID),
	)
	return live, nil
}

// attach registers the dispatcher handlers that feed live. They are
// cancelled by Dispose.
func (f *Factory) attach(live *LiveSession) error {
	if f.dispatcher == nil {
		return nil
	}

	chat, err := f.dispatcher.RegisterFunc(events.TypeChat, func(ctx context.Context, event events.Event) error {
		if event.Origin != live.Scope() {
			return nil
		}
		return live.HandleMessage(ctx, event)
	})
	if err != nil {
		return err
	}
	live.track(chat)

	connected, err := f.dispatcher.RegisterFunc(events.TypeConnected, func(ctx context.Context, event events.Event) error {
		if event.Origin != live.Scope() {
			return nil
		}
		ack, ok := event.Payload.(events.Connected)
		if !ok || ack.SessionID == "" || live.ID() != "" {
			return nil
		}
		_, _, err := f.registry.Rebind(live.Scope(), ack.SessionID, func(current registry.Entry) bool {
			return current == registry.Entry(live) && adoptUnbound(ack.SessionID)(current)
		}, nil)
		return err
	})
	if err != nil {
		return err
	}
	live.track(connected)
	return nil
}

// reportConnectError publishes a failed live connect as an error event
// for scope so subscribers see it on the event path.
func (f *Factory) reportConnectError(scope string, err error) {
	if f.dispatcher == nil {
		return
	}
	f.dispatcher.Dispatch(context.Background(), events.TypeError, events.Error{
		Message: err.Error(),
		Code:    events.CodeChannelUnavailable,
	}, scope)
}

func (f *Factory) disposeEvicted(scope string, evicted registry.Entry) {
	s, ok := evicted.(Session)
	if !ok {
		return
	}
	f.logger.Info("Replacing live session", zap.String("scope", scope), zap.String("previous", s.ID()))
	if err := s.Dispose(); err != nil {
		f.logger.Warn("Dispose failed", zap.String("scope", scope), zap.Error(err))
	}
}

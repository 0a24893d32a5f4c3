package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
)

// HistorySession browses stored sessions of a scope. It is read-only:
// its capability set is fixed to read no matter what a loaded transcript
// claims.
type HistorySession struct {
	*core

	browseMu   sync.Mutex
	browsingID string

	viewMu   sync.RWMutex
	selected string
	sessions []Summary
}

// HistoryOptions configures a HistorySession.
type HistoryOptions struct {
	Scope   string
	Backend Backend
	Logger  *zap.Logger
}

// NewHistorySession creates a history session. Use Factory.HistorySession
// to get the registered instance for a scope.
func NewHistorySession(opts HistoryOptions) *HistorySession {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("scope", opts.Scope), zap.String("kind", string(KindHistory)))

	return &HistorySession{
		core: newCore(KindHistory, opts.Scope, "", []Capability{CapRead}, opts.Backend, logger),
	}
}

// BrowsingID returns the browsing handle, or "" before the first listing.
func (s *HistorySession) BrowsingID() string {
	s.browseMu.Lock()
	defer s.browseMu.Unlock()
	return s.browsingID
}

// ensureBrowsing creates the browsing handle on first use.
func (s *HistorySession) ensureBrowsing(ctx context.Context) (string, error) {
	s.browseMu.Lock()
	defer s.browseMu.Unlock()

	if s.browsingID != "" {
		return s.browsingID, nil
	}
	browsingID, err := s.backend.CreateBrowsingSession(ctx, s.scope)
	if err != nil {
		return "", &LoadError{Op: "create browsing session", Scope: s.scope, Err: err}
	}
	s.browsingID = browsingID
	s.logger.Debug("Browsing session created", zap.String("browsing_id", browsingID))
	return browsingID, nil
}

// LoadAllSessions lists the stored sessions of the scope and caches them.
func (s *HistorySession) LoadAllSessions(ctx context.Context) ([]Summary, error) {
	if s.isDisposed() {
		return nil, ErrDisposed
	}

	browsingID, err := s.ensureBrowsing(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := s.listSessions(ctx, browsingID)
	if err != nil {
		return nil, err
	}

	s.viewMu.Lock()
	s.sessions = append([]Summary(nil), sessions...)
	s.viewMu.Unlock()

	s.listeners.emit(Notification{Kind: Loaded, Scope: s.scope, Sessions: sessions})
	return sessions, nil
}

// Load reloads the selected transcript, or the session list when nothing
// is selected.
func (s *HistorySession) Load(ctx context.Context) error {
	if selected := s.Selected(); selected != "" {
		if s.isDisposed() {
			return ErrDisposed
		}
		if _, err := s.ensureBrowsing(ctx); err != nil {
			return err
		}
		if _, err := s.loadTranscript(ctx, selected); err != nil {
			return err
		}
		s.listeners.emit(Notification{Kind: Loaded, Scope: s.scope, SessionID: selected})
		return nil
	}
	_, err := s.LoadAllSessions(ctx)
	return err
}

// SelectSession loads a stored transcript and makes it the current view.
func (s *HistorySession) SelectSession(ctx context.Context, sessionID string) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	if _, err := s.ensureBrowsing(ctx); err != nil {
		return err
	}
	if _, err := s.loadTranscript(ctx, sessionID); err != nil {
		return err
	}

	s.viewMu.Lock()
	s.selected = sessionID
	s.viewMu.Unlock()

	s.listeners.emit(Notification{Kind: SessionSelected, Scope: s.scope, SessionID: sessionID})
	return nil
}

// Selected returns the id of the transcript being viewed.
func (s *HistorySession) Selected() string {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.selected
}

// Sessions returns the cached listing.
func (s *HistorySession) Sessions() []Summary {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return append([]Summary(nil), s.sessions...)
}

// AddMessage always fails: history sessions are read-only.
func (s *HistorySession) AddMessage(ctx context.Context, msg Message) (Message, error) {
	return Message{}, &PermissionError{Op: CapWrite, Kind: KindHistory, Scope: s.scope}
}

// Save always fails: history sessions are read-only.
func (s *HistorySession) Save(ctx context.Context) error {
	return &PermissionError{Op: CapWrite, Kind: KindHistory, Scope: s.scope}
}

// HandleMessage ignores pushed events.
func (s *HistorySession) HandleMessage(ctx context.Context, event events.Event) error {
	return nil
}

// HealthStatus reports the session state.
func (s *HistorySession) HealthStatus() Health {
	return s.health(false)
}

// Dispose clears the cached view and detaches listeners.
func (s *HistorySession) Dispose() error {
	if !s.dispose() {
		return nil
	}

	s.viewMu.Lock()
	s.sessions = nil
	s.selected = ""
	s.viewMu.Unlock()
	return nil
}

var _ Session = (*HistorySession)(nil)

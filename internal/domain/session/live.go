package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
)

// DefaultConnectTimeout bounds channel establishment when none is set.
const DefaultConnectTimeout = 10 * time.Second

var liveCapabilities = []Capability{CapRead, CapWrite, CapDelete, CapExecute}

// LiveSession is the writable conversational session of a scope. It owns
// a push channel and a key/value snapshot of the running job's state.
type LiveSession struct {
	*core

	opener         ChannelOpener
	connectTimeout time.Duration
	onConnectError func(error)

	chMu    sync.Mutex
	channel PushChannel

	stateMu  sync.RWMutex
	jobState map[string]any

	regMu         sync.Mutex
	registrations []*events.Registration

	persist sync.WaitGroup
}

// LiveOptions configures a LiveSession.
type LiveOptions struct {
	Scope          string
	SessionID      string
	Backend        Backend
	Opener         ChannelOpener
	ConnectTimeout time.Duration
	// OnConnectError is told about every failed Connect.
	OnConnectError func(error)
	Logger         *zap.Logger
}

// NewLiveSession creates a live session. Use Factory.LiveSession to get
// the registered instance for a scope.
func NewLiveSession(opts LiveOptions) *LiveSession {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("scope", opts.Scope), zap.String("kind", string(KindLive)))

	return &LiveSession{
		core:           newCore(KindLive, opts.Scope, opts.SessionID, liveCapabilities, opts.Backend, logger),
		opener:         opts.Opener,
		connectTimeout: timeout,
		onConnectError: opts.OnConnectError,
		jobState:       make(map[string]any),
	}
}

// Load fetches the transcript when an id is bound, otherwise the list of
// sessions for the scope.
func (s *LiveSession) Load(ctx context.Context) error {
	if s.isDisposed() {
		return ErrDisposed
	}

	n := Notification{Kind: Loaded, Scope: s.scope}
	if sessionID := s.ID(); sessionID != "" {
		if _, err := s.loadTranscript(ctx, sessionID); err != nil {
			return err
		}
		n.SessionID = sessionID
	} else {
		sessions, err := s.listSessions(ctx, "")
		if err != nil {
			return err
		}
		n.Sessions = sessions
	}

	s.listeners.emit(n)
	return nil
}

// Save persists the session snapshot.
func (s *LiveSession) Save(ctx context.Context) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	return s.save(ctx)
}

// AddMessage appends msg to the log. When the session is active and has
// an id, the message is persisted in the background; Flush waits for
// outstanding writes.
func (s *LiveSession) AddMessage(ctx context.Context, msg Message) (Message, error) {
	stored, err := s.appendMessage(msg)
	if err != nil {
		return Message{}, err
	}

	sessionID := s.ID()
	if s.IsActive() && sessionID != "" && s.backend != nil {
		s.persist.Add(1)
		go func() {
			defer s.persist.Done()
			if err := s.backend.AppendMessage(context.WithoutCancel(ctx), sessionID, stored); err != nil {
				s.logger.Warn("Failed to persist message",
					zap.String("session_id", sessionID),
					zap.String("message_id", stored.ID),
					zap.Error(err),
				)
			}
		}()
	}
	return stored, nil
}

// Flush blocks until background persistence started by AddMessage ends.
func (s *LiveSession) Flush() {
	s.persist.Wait()
}

// Connect opens the push channel. It is a no-op when the channel is
// already open and gives up after the configured connect timeout. A
// failure is also handed to OnConnectError once the channel lock is
// released.
func (s *LiveSession) Connect(ctx context.Context) error {
	if s.isDisposed() {
		return ErrDisposed
	}

	err := s.connect(ctx)
	if err != nil && s.onConnectError != nil {
		s.onConnectError(err)
	}
	return err
}

func (s *LiveSession) connect(ctx context.Context) error {
	s.chMu.Lock()
	defer s.chMu.Unlock()

	if s.channel != nil && s.channel.IsOpen() {
		return nil
	}
	if s.channel == nil {
		if s.opener == nil {
			return &ChannelError{Op: "connect", Scope: s.scope, Err: errors.New("no channel opener configured")}
		}
		s.channel = s.opener(s.scope)
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	if err := s.channel.Connect(connectCtx); err != nil {
		s.logger.Warn("Push channel unavailable", zap.Error(err))
		return &ChannelError{Op: "connect", Scope: s.scope, Err: err}
	}

	s.setActive(true)
	s.logger.Info("Push channel connected")
	return nil
}

// ChannelOpen reports whether the push channel is connected.
func (s *LiveSession) ChannelOpen() bool {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	return s.channel != nil && s.channel.IsOpen()
}

// SendMessage appends a user message and transmits it over the channel.
// Without an open channel the message stays in the log and a degraded
// mode warning is logged.
func (s *LiveSession) SendMessage(ctx context.Context, text string) (Message, error) {
	if err := s.ValidatePermissions(CapWrite); err != nil {
		return Message{}, err
	}

	msg, err := s.AddMessage(ctx, Message{Role: "user", Text: text})
	if err != nil {
		return Message{}, err
	}

	s.chMu.Lock()
	channel := s.channel
	s.chMu.Unlock()

	if channel == nil || !channel.IsOpen() {
		s.logger.Warn("Push channel closed, message kept locally",
			zap.String("message_id", msg.ID),
		)
		return msg, nil
	}

	frame, err := events.NewFrame(events.TypeMessage, map[string]string{
		"message_id": msg.ID,
		"session_id": s.ID(),
		"text":       text,
	})
	if err != nil {
		return msg, err
	}
	frame.Scope = s.scope

	if err := channel.Send(ctx, frame); err != nil {
		return msg, &ChannelError{Op: "send", Scope: s.scope, Err: err}
	}
	return msg, nil
}

// HandleMessage applies a conversational event to the session.
func (s *LiveSession) HandleMessage(ctx context.Context, event events.Event) error {
	if s.isDisposed() {
		return nil
	}

	chat, ok := event.Payload.(events.Chat)
	if !ok {
		s.logger.Warn("Ignoring non-chat event", zap.String("type", string(event.Type)))
		return nil
	}

	switch chat.Subtype {
	case events.ChatProgress:
		s.mergeState(chat.State)
	case events.ChatReply:
		role := chat.Role
		if role == "" {
			role = "assistant"
		}
		_, err := s.appendMessage(Message{ID: chat.MessageID, Role: role, Text: chat.Text, Timestamp: event.ReceivedAt})
		return err
	case events.ChatComplete:
		s.mergeState(chat.State)
		s.setJobState("status", "complete")
	case events.ChatError:
		s.setJobState("status", "error")
		s.setJobState("error", chat.Error)
		s.logger.Warn("Conversation turn failed", zap.String("error", chat.Error))
	default:
		s.logger.Warn("Dropping chat event with unknown subtype", zap.String("subtype", chat.Subtype))
	}
	return nil
}

// JobState returns a copy of the job-state snapshot.
func (s *LiveSession) JobState() map[string]any {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	out := make(map[string]any, len(s.jobState))
	for k, v := range s.jobState {
		out[k] = v
	}
	return out
}

func (s *LiveSession) mergeState(state map[string]any) {
	s.stateMu.Lock()
	for k, v := range state {
		s.jobState[k] = v
	}
	s.stateMu.Unlock()
}

func (s *LiveSession) setJobState(key string, value any) {
	s.stateMu.Lock()
	s.jobState[key] = value
	s.stateMu.Unlock()
}

// HealthStatus reports the session state.
func (s *LiveSession) HealthStatus() Health {
	return s.health(s.ChannelOpen())
}

func (s *LiveSession) track(reg *events.Registration) {
	s.regMu.Lock()
	s.registrations = append(s.registrations, reg)
	s.regMu.Unlock()
}

// Dispose detaches handlers and listeners, closes the channel and clears
// the log. Calling it again does nothing.
func (s *LiveSession) Dispose() error {
	if !s.dispose() {
		return nil
	}

	s.regMu.Lock()
	regs := s.registrations
	s.registrations = nil
	s.regMu.Unlock()
	for _, reg := range regs {
		reg.Cancel()
	}

	s.persist.Wait()

	s.chMu.Lock()
	channel := s.channel
	s.channel = nil
	s.chMu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			return &ChannelError{Op: "close", Scope: s.scope, Err: err}
		}
	}
	return nil
}

var _ Session = (*LiveSession)(nil)

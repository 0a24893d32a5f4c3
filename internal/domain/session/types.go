package session

import (
	"context"
	"time"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
)

// Kind distinguishes the session variants.
type Kind string

const (
	KindLive    Kind = "live"
	KindHistory Kind = "history"
)

// Capability is an operation a session may permit.
type Capability string

const (
	CapRead    Capability = "read"
	CapWrite   Capability = "write"
	CapDelete  Capability = "delete"
	CapExecute Capability = "execute"
)

// Message is one entry of a session's append-only log.
type Message struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Summary describes a stored session in a listing.
type Summary struct {
	ID           string    `json:"id"`
	Scope        string    `json:"scope"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Transcript is the persisted form of a session.
type Transcript struct {
	ID       string            `json:"id"`
	Scope    string            `json:"scope"`
	Messages []Message         `json:"messages"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Health is a point-in-time view of a session.
type Health struct {
	ID           string       `json:"id"`
	Scope        string       `json:"scope"`
	Kind         Kind         `json:"kind"`
	Active       bool         `json:"active"`
	Messages     int          `json:"messages"`
	Capabilities []Capability `json:"capabilities"`
	ChannelOpen  bool         `json:"channel_open"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
}

// Backend is the REST collaborator sessions read from and write to.
type Backend interface {
	GetTranscript(ctx context.Context, sessionID string) (*Transcript, error)
	ListSessions(ctx context.Context, scope, browsingID string) ([]Summary, error)
	CreateBrowsingSession(ctx context.Context, scope string) (string, error)
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	SaveSession(ctx context.Context, transcript Transcript) error
}

// PushChannel is the server push connection owned by a live session.
type PushChannel interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame events.Frame) error
	IsOpen() bool
	Close() error
}

// ChannelOpener builds the push channel for a scope.
type ChannelOpener func(scope string) PushChannel

// Session is the capability interface shared by both variants.
type Session interface {
	ID() string
	Scope() string
	Kind() Kind
	Messages() []Message
	Metadata() map[string]string

	Load(ctx context.Context) error
	Save(ctx context.Context) error
	AddMessage(ctx context.Context, msg Message) (Message, error)
	ValidatePermissions(op Capability) error
	HandleMessage(ctx context.Context, event events.Event) error
	HealthStatus() Health
	Subscribe(kind ListenerKind, listener Listener) func()
	Dispose() error
}

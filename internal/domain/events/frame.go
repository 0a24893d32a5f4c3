package events

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Type is the tag every push frame carries.
type Type string

// Inbound frame types.
const (
	TypeProgress     Type = "progress"
	TypeTerminal     Type = "terminal"
	TypeStatus       Type = "status"
	TypeConnected    Type = "connected"
	TypePong         Type = "pong"
	TypeTaskComplete Type = "task_complete"
	TypeError        Type = "error"
	TypeChat         Type = "chat"
)

// Outbound frame types.
const (
	TypePing    Type = "ping"
	TypeMessage Type = "message"
)

// Chat subtypes carried by TypeChat frames.
const (
	ChatProgress = "progress"
	ChatReply    = "reply"
	ChatComplete = "complete"
	ChatError    = "error"
)

// Frame is the wire envelope shared by inbound and outbound push frames.
type Frame struct {
	Type     Type            `json:"type"`
	TaskID   string          `json:"task_id,omitempty"`
	Scope    string          `json:"scope,omitempty"`
	Category string          `json:"category,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Payload is implemented by every decoded frame body. The set is closed:
// Decode is the only constructor and switches over every known Type.
type Payload interface {
	FrameType() Type
}

// Progress reports job progress. State is kept as the raw string so that
// consumers can reject values outside their enumeration.
type Progress struct {
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// Terminal is one log line produced by the backend job.
type Terminal struct {
	Line string `json:"line"`
}

// Status is a data/storage status snapshot for one resource.
type Status struct {
	Resource  string         `json:"resource"`
	Files     int            `json:"files"`
	Chunks    int            `json:"chunks"`
	Indexed   bool           `json:"indexed"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Connected acknowledges channel establishment.
type Connected struct {
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id,omitempty"`
}

// Pong answers a keepalive ping.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// TaskComplete marks the end of a backend task.
type TaskComplete struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// Error reports a backend failure.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// CodeChannelUnavailable marks an Error raised locally when a session's
// push channel could not be established.
const CodeChannelUnavailable = "channel_unavailable"

// Chat carries conversational traffic; Subtype selects the meaning.
type Chat struct {
	Subtype   string         `json:"subtype"`
	MessageID string         `json:"message_id,omitempty"`
	Role      string         `json:"role,omitempty"`
	Text      string         `json:"text,omitempty"`
	State     map[string]any `json:"state,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (Progress) FrameType() Type     { return TypeProgress }
func (Terminal) FrameType() Type     { return TypeTerminal }
func (Status) FrameType() Type       { return TypeStatus }
func (Connected) FrameType() Type    { return TypeConnected }
func (Pong) FrameType() Type         { return TypePong }
func (TaskComplete) FrameType() Type { return TypeTaskComplete }
func (Error) FrameType() Type        { return TypeError }
func (Chat) FrameType() Type         { return TypeChat }

// ParseFrame parses raw bytes into a Frame. A frame without a type tag is
// rejected with ErrMalformedFrame.
func ParseFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := sonic.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type tag", ErrMalformedFrame)
	}
	return frame, nil
}

// Decode returns the typed payload for the frame. Unknown types yield
// an *UnknownTypeError so callers handle them explicitly.
func (f Frame) Decode() (Payload, error) {
	switch f.Type {
	case TypeProgress:
		return decodeInto[Progress](f)
	case TypeTerminal:
		return decodeInto[Terminal](f)
	case TypeStatus:
		return decodeInto[Status](f)
	case TypeConnected:
		return decodeInto[Connected](f)
	case TypePong:
		return decodeInto[Pong](f)
	case TypeTaskComplete:
		return decodeInto[TaskComplete](f)
	case TypeError:
		return decodeInto[Error](f)
	case TypeChat:
		return decodeInto[Chat](f)
	default:
		return nil, &UnknownTypeError{Type: f.Type}
	}
}

func decodeInto[T Payload](f Frame) (Payload, error) {
	var payload T
	if len(f.Data) == 0 {
		return payload, nil
	}
	if err := sonic.Unmarshal(f.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedFrame, f.Type, err)
	}
	return payload, nil
}

// NewFrame builds an outbound frame with data encoded as JSON.
func NewFrame(t Type, data any) (Frame, error) {
	frame := Frame{Type: t}
	if data == nil {
		return frame, nil
	}
	raw, err := sonic.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s frame: %w", t, err)
	}
	frame.Data = raw
	return frame, nil
}

// Encode renders the frame as JSON.
func (f Frame) Encode() ([]byte, error) {
	return sonic.Marshal(f)
}

// Package testutil provides mocks and helpers shared by package tests.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
)

// MockBackend is a mock implementation of the REST collaborator.
type MockBackend struct {
	mock.Mock
}

// GetTranscript mocks the GetTranscript method.
func (m *MockBackend) GetTranscript(ctx context.Context, sessionID string) (*session.Transcript, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Transcript), args.Error(1)
}

// ListSessions mocks the ListSessions method.
func (m *MockBackend) ListSessions(ctx context.Context, scope, browsingID string) ([]session.Summary, error) {
	args := m.Called(ctx, scope, browsingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]session.Summary), args.Error(1)
}

// CreateBrowsingSession mocks the CreateBrowsingSession method.
func (m *MockBackend) CreateBrowsingSession(ctx context.Context, scope string) (string, error) {
	args := m.Called(ctx, scope)
	return args.String(0), args.Error(1)
}

// AppendMessage mocks the AppendMessage method.
func (m *MockBackend) AppendMessage(ctx context.Context, sessionID string, msg session.Message) error {
	args := m.Called(ctx, sessionID, msg)
	return args.Error(0)
}

// SaveSession mocks the SaveSession method.
func (m *MockBackend) SaveSession(ctx context.Context, transcript session.Transcript) error {
	args := m.Called(ctx, transcript)
	return args.Error(0)
}

// TriggerGeneration mocks the TriggerGeneration method.
func (m *MockBackend) TriggerGeneration(ctx context.Context, resource string) (string, error) {
	args := m.Called(ctx, resource)
	return args.String(0), args.Error(1)
}

// MockChannel is a mock push channel. IsOpen reflects successful Connect
// and Close calls.
type MockChannel struct {
	mock.Mock

	mu   sync.Mutex
	open bool
}

// Connect mocks the Connect method.
func (m *MockChannel) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.open = true
	m.mu.Unlock()
	return nil
}

// Send mocks the Send method.
func (m *MockChannel) Send(ctx context.Context, frame events.Frame) error {
	args := m.Called(ctx, frame)
	return args.Error(0)
}

// IsOpen reports whether Connect succeeded and Close was not called.
func (m *MockChannel) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Close mocks the Close method.
func (m *MockChannel) Close() error {
	args := m.Called()
	m.mu.Lock()
	m.open = false
	m.mu.Unlock()
	return args.Error(0)
}

// MockInvalidator records status cache invalidations.
type MockInvalidator struct {
	mock.Mock
}

// Invalidate mocks the Invalidate method.
func (m *MockInvalidator) Invalidate(resource string) {
	m.Called(resource)
}

// NewMockBackend creates a mock backend whose writes succeed by default.
func NewMockBackend(t *testing.T) *MockBackend {
	t.Helper()
	m := new(MockBackend)

	m.On("AppendMessage", mock.Anything, mock.Anything, mock.Anything).
		Return(nil).
		Maybe()
	m.On("SaveSession", mock.Anything, mock.Anything).
		Return(nil).
		Maybe()

	return m
}

// NewMockChannel creates a mock channel that connects, sends and closes
// successfully.
func NewMockChannel(t *testing.T) *MockChannel {
	t.Helper()
	m := new(MockChannel)

	m.On("Connect", mock.Anything).Return(nil).Maybe()
	m.On("Send", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()

	return m
}

// ProgressEvent builds a dispatched progress event.
func ProgressEvent(taskID, state string, progress float64, message string) events.Event {
	return events.Event{
		Type:     events.TypeProgress,
		Payload:  events.Progress{State: state, Progress: progress, Message: message},
		TaskID:   taskID,
		Category: "progress",
	}
}

// ChatEvent builds a dispatched chat event for scope.
func ChatEvent(scope string, chat events.Chat) events.Event {
	return events.Event{Type: events.TypeChat, Payload: chat, Origin: scope}
}

// RawFrame encodes a frame for feeding an Ingress.
func RawFrame(t *testing.T, frameType events.Type, data any) []byte {
	t.Helper()
	frame, err := events.NewFrame(frameType, data)
	require.NoError(t, err)
	raw, err := frame.Encode()
	require.NoError(t, err)
	return raw
}

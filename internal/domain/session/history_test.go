package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
	"github.com/GriffinCanCode/ragstudio/tests/helpers/testutil"
)

func TestHistoryCapabilitiesAreReadOnly(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	backend.On("CreateBrowsingSession", mock.Anything, "docs").Return("b1", nil)
	backend.On("GetTranscript", mock.Anything, "s1").Return(&session.Transcript{
		ID:       "s1",
		Metadata: map[string]string{"capabilities": "read,write,delete,execute"},
	}, nil)

	h := session.NewHistorySession(session.HistoryOptions{Scope: "docs", Backend: backend})
	require.NoError(t, h.SelectSession(context.Background(), "s1"))

	tests := []struct {
		op      session.Capability
		allowed bool
	}{
		{session.CapRead, true},
		{session.CapWrite, false},
		{session.CapDelete, false},
		{session.CapExecute, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			err := h.ValidatePermissions(tt.op)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			var permErr *session.PermissionError
			require.ErrorAs(t, err, &permErr)
			assert.Equal(t, tt.op, permErr.Op)
			assert.ErrorIs(t, err, session.ErrPermissionDenied)
		})
	}
	assert.Equal(t, []session.Capability{session.CapRead}, h.HealthStatus().Capabilities)
}

func TestHistoryRejectsWrites(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	h := session.NewHistorySession(session.HistoryOptions{Scope: "docs", Backend: backend})

	_, err := h.AddMessage(context.Background(), session.Message{Text: "x"})
	assert.ErrorIs(t, err, session.ErrPermissionDenied)

	err = h.Save(context.Background())
	assert.ErrorIs(t, err, session.ErrPermissionDenied)

	assert.Empty(t, h.Messages())
	backend.AssertNotCalled(t, "SaveSession", mock.Anything, mock.Anything)
}

func TestLoadAllSessionsCreatesBrowsingHandleOnce(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	backend.On("CreateBrowsingSession", mock.Anything, "docs").Return("b1", nil).Once()
	backend.On("ListSessions", mock.Anything, "docs", "b1").Return([]session.Summary{{ID: "s1"}}, nil)

	h := session.NewHistorySession(session.HistoryOptions{Scope: "docs", Backend: backend})
	assert.Empty(t, h.BrowsingID())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.LoadAllSessions(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, "b1", h.BrowsingID())
	assert.Equal(t, []session.Summary{{ID: "s1"}}, h.Sessions())
	backend.AssertNumberOfCalls(t, "CreateBrowsingSession", 1)
}

func TestLoadAllSessionsBrowsingFailure(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	backend.On("CreateBrowsingSession", mock.Anything, "docs").Return("", errors.New("down"))

	h := session.NewHistorySession(session.HistoryOptions{Scope: "docs", Backend: backend})
	_, err := h.LoadAllSessions(context.Background())

	var loadErr *session.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Empty(t, h.BrowsingID())
}

func TestSelectSession(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	backend.On("CreateBrowsingSession", mock.Anything, "docs").Return("b1", nil)
	backend.On("GetTranscript", mock.Anything, "s2").Return(&session.Transcript{
		ID:       "s2",
		Messages: []session.Message{{ID: "m1", Text: "old"}},
	}, nil)

	h := session.NewHistorySession(session.HistoryOptions{Scope: "docs", Backend: backend})

	var selected session.Notification
	h.Subscribe(session.SessionSelected, func(n session.Notification) { selected = n })

	require.NoError(t, h.SelectSession(context.Background(), "s2"))

	assert.Equal(t, "s2", h.Selected())
	assert.Equal(t, "s2", selected.SessionID)
	assert.Len(t, h.Messages(), 1)
	assert.Empty(t, h.ID())
}

func TestHistoryIgnoresPushedEvents(t *testing.T) {
	h := session.NewHistorySession(session.HistoryOptions{Scope: "docs"})

	err := h.HandleMessage(context.Background(), testutil.ChatEvent("docs", events.Chat{Subtype: events.ChatReply, Text: "x"}))

	assert.NoError(t, err)
	assert.Empty(t, h.Messages())
}

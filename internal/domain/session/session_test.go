package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
	"github.com/GriffinCanCode/ragstudio/tests/helpers/testutil"
)

func TestLiveSessionLoad(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		setup     func(b *testutil.MockBackend)
		check     func(t *testing.T, s *session.LiveSession, n session.Notification)
	}{
		{
			name:      "bound id loads transcript",
			sessionID: "s1",
			setup: func(b *testutil.MockBackend) {
				b.On("GetTranscript", mock.Anything, "s1").Return(&session.Transcript{
					ID:       "s1",
					Messages: []session.Message{{ID: "m1", Role: "user", Text: "hi"}},
					Metadata: map[string]string{"title": "first"},
				}, nil)
			},
			check: func(t *testing.T, s *session.LiveSession, n session.Notification) {
				assert.Len(t, s.Messages(), 1)
				assert.Equal(t, "first", s.Metadata()["title"])
				assert.Equal(t, "s1", n.SessionID)
			},
		},
		{
			name: "unbound lists scope sessions",
			setup: func(b *testutil.MockBackend) {
				b.On("ListSessions", mock.Anything, "docs", "").Return([]session.Summary{{ID: "a"}, {ID: "b"}}, nil)
			},
			check: func(t *testing.T, s *session.LiveSession, n session.Notification) {
				assert.Len(t, n.Sessions, 2)
				assert.Empty(t, s.Messages())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := testutil.NewMockBackend(t)
			tt.setup(backend)
			s := session.NewLiveSession(session.LiveOptions{Scope: "docs", SessionID: tt.sessionID, Backend: backend})

			var got session.Notification
			s.Subscribe(session.Loaded, func(n session.Notification) { got = n })

			require.NoError(t, s.Load(context.Background()))
			assert.Equal(t, session.Loaded, got.Kind)
			tt.check(t, s, got)
			backend.AssertExpectations(t)
		})
	}
}

func TestLoadErrorWrapsCause(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	cause := errors.New("unreachable")
	backend.On("GetTranscript", mock.Anything, "s1").Return(nil, cause)

	s := session.NewLiveSession(session.LiveOptions{Scope: "docs", SessionID: "s1", Backend: backend})
	err := s.Load(context.Background())

	var loadErr *session.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "s1", loadErr.SessionID)
	assert.ErrorIs(t, err, cause)
}

func TestSaveRequiresID(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	s := session.NewLiveSession(session.LiveOptions{Scope: "docs", Backend: backend})

	err := s.Save(context.Background())

	var saveErr *session.SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.ErrorIs(t, err, session.ErrNoSessionID)
	assert.Contains(t, err.Error(), "no id bound")
	backend.AssertNotCalled(t, "SaveSession", mock.Anything, mock.Anything)
}

func TestSaveEmitsSaved(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	s := session.NewLiveSession(session.LiveOptions{Scope: "docs", SessionID: "s1", Backend: backend})

	saved := 0
	s.Subscribe(session.Saved, func(session.Notification) { saved++ })

	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, 1, saved)
	backend.AssertCalled(t, "SaveSession", mock.Anything, mock.MatchedBy(func(tr session.Transcript) bool {
		return tr.ID == "s1" && tr.Scope == "docs"
	}))
}

func TestAddMessageNormalizesAndPersists(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	channel := testutil.NewMockChannel(t)
	s := session.NewLiveSession(session.LiveOptions{
		Scope:     "docs",
		SessionID: "s1",
		Backend:   backend,
		Opener:    func(string) session.PushChannel { return channel },
	})
	require.NoError(t, s.Connect(context.Background()))

	var added []session.Message
	s.Subscribe(session.MessageAdded, func(n session.Notification) { added = append(added, *n.Message) })

	local := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	msg, err := s.AddMessage(context.Background(), session.Message{Role: "user", Text: "hello", Timestamp: local})
	require.NoError(t, err)
	s.Flush()

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, time.UTC, msg.Timestamp.Location())
	assert.True(t, msg.Timestamp.Equal(local))
	assert.Equal(t, []session.Message{msg}, added)
	backend.AssertCalled(t, "AppendMessage", mock.Anything, "s1", msg)
}

func TestAddMessageInactiveSkipsPersistence(t *testing.T) {
	backend := testutil.NewMockBackend(t)
	s := session.NewLiveSession(session.LiveOptions{Scope: "docs", SessionID: "s1", Backend: backend})

	msg, err := s.AddMessage(context.Background(), session.Message{Text: "draft"})
	require.NoError(t, err)
	s.Flush()

	assert.False(t, msg.Timestamp.IsZero())
	backend.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestConnectIsIdempotent(t *testing.T) {
	channel := testutil.NewMockChannel(t)
	opened := 0
	s := session.NewLiveSession(session.LiveOptions{
		Scope: "docs",
		Opener: func(string) session.PushChannel {
			opened++
			return channel
		},
	})

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))

	assert.Equal(t, 1, opened)
	channel.AssertNumberOfCalls(t, "Connect", 1)
	assert.True(t, s.HealthStatus().ChannelOpen)
	assert.True(t, s.IsActive())
}

func TestConnectFailureIsChannelError(t *testing.T) {
	channel := new(testutil.MockChannel)
	channel.On("Connect", mock.Anything).Return(context.DeadlineExceeded)

	s := session.NewLiveSession(session.LiveOptions{
		Scope:          "docs",
		Opener:         func(string) session.PushChannel { return channel },
		ConnectTimeout: 10 * time.Millisecond,
	})

	err := s.Connect(context.Background())

	var chErr *session.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.IsActive())
}

func TestConnectAppliesTimeout(t *testing.T) {
	channel := new(testutil.MockChannel)
	channel.On("Connect", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		_, ok := ctx.Deadline()
		assert.True(t, ok)
	})

	s := session.NewLiveSession(session.LiveOptions{
		Scope:  "docs",
		Opener: func(string) session.PushChannel { return channel },
	})
	require.NoError(t, s.Connect(context.Background()))
}

func TestSendMessage(t *testing.T) {
	t.Run("open channel transmits", func(t *testing.T) {
		channel := testutil.NewMockChannel(t)
		s := session.NewLiveSession(session.LiveOptions{
			Scope:  "docs",
			Opener: func(string) session.PushChannel { return channel },
		})
		require.NoError(t, s.Connect(context.Background()))

		msg, err := s.SendMessage(context.Background(), "question")
		require.NoError(t, err)

		assert.Equal(t, "user", msg.Role)
		assert.Len(t, s.Messages(), 1)
		channel.AssertCalled(t, "Send", mock.Anything, mock.MatchedBy(func(f events.Frame) bool {
			return f.Type == events.TypeMessage && f.Scope == "docs"
		}))
	})

	t.Run("closed channel degrades", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		s := session.NewLiveSession(session.LiveOptions{Scope: "docs", Logger: zap.New(core)})

		_, err := s.SendMessage(context.Background(), "question")
		require.NoError(t, err)

		assert.Len(t, s.Messages(), 1)
		assert.Equal(t, 1, logs.FilterMessage("Push channel closed, message kept locally").Len())
	})
}

func TestLiveHandleMessage(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := session.NewLiveSession(session.LiveOptions{Scope: "docs", Logger: zap.New(core)})
	ctx := context.Background()

	require.NoError(t, s.HandleMessage(ctx, testutil.ChatEvent("docs", events.Chat{
		Subtype: events.ChatProgress,
		State:   map[string]any{"step": "retrieval"},
	})))
	require.NoError(t, s.HandleMessage(ctx, testutil.ChatEvent("docs", events.Chat{
		Subtype: events.ChatReply,
		Text:    "answer",
	})))
	require.NoError(t, s.HandleMessage(ctx, testutil.ChatEvent("docs", events.Chat{
		Subtype: events.ChatComplete,
	})))
	require.NoError(t, s.HandleMessage(ctx, testutil.ChatEvent("docs", events.Chat{
		Subtype: "mystery",
	})))

	messages := s.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "assistant", messages[0].Role)
	assert.Equal(t, "answer", messages[0].Text)

	state := s.JobState()
	assert.Equal(t, "retrieval", state["step"])
	assert.Equal(t, "complete", state["status"])
	assert.Equal(t, 1, logs.FilterMessage("Dropping chat event with unknown subtype").Len())

	require.NoError(t, s.HandleMessage(ctx, testutil.ChatEvent("docs", events.Chat{
		Subtype: events.ChatError,
		Error:   "model offline",
	})))
	assert.Equal(t, "model offline", s.JobState()["error"])
}

func TestLiveDispose(t *testing.T) {
	channel := testutil.NewMockChannel(t)
	s := session.NewLiveSession(session.LiveOptions{
		Scope:  "docs",
		Opener: func(string) session.PushChannel { return channel },
	})
	require.NoError(t, s.Connect(context.Background()))

	notified := 0
	s.Subscribe(session.MessageAdded, func(session.Notification) { notified++ })
	_, err := s.AddMessage(context.Background(), session.Message{Text: "x"})
	require.NoError(t, err)

	require.NoError(t, s.Dispose())
	require.NoError(t, s.Dispose())

	channel.AssertNumberOfCalls(t, "Close", 1)
	assert.Empty(t, s.Messages())
	assert.False(t, s.IsActive())

	_, err = s.AddMessage(context.Background(), session.Message{Text: "late"})
	assert.ErrorIs(t, err, session.ErrDisposed)
	assert.Equal(t, 1, notified)
}

func TestListenerUnsubscribe(t *testing.T) {
	s := session.NewLiveSession(session.LiveOptions{Scope: "docs"})

	calls := 0
	cancel := s.Subscribe(session.MessageAdded, func(session.Notification) { calls++ })

	_, err := s.AddMessage(context.Background(), session.Message{Text: "one"})
	require.NoError(t, err)
	cancel()
	cancel()
	_, err = s.AddMessage(context.Background(), session.Message{Text: "two"})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestMetadataKeysAreUnique(t *testing.T) {
	s := session.NewLiveSession(session.LiveOptions{Scope: "docs"})

	s.SetMetadata("title", "a")
	s.SetMetadata("title", "b")

	assert.Equal(t, map[string]string{"title": "b"}, s.Metadata())
}

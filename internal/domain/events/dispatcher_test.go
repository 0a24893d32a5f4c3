package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
)

func newObservedDispatcher() (*Dispatcher, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewDispatcher(zap.New(core)), logs
}

func TestDispatchInvokesHandlersInOrder(t *testing.T) {
	d, _ := newObservedDispatcher()

	var calls []int
	for i := 0; i < 3; i++ {
		n := i
		_, err := d.RegisterFunc(TypeProgress, func(ctx context.Context, event Event) error {
			calls = append(calls, n)
			if n == 0 {
				return errors.New("first fails")
			}
			return nil
		})
		require.NoError(t, err)
	}

	result := d.Dispatch(context.Background(), TypeProgress, Progress{State: "PARSER"}, "scope-a")

	assert.Equal(t, []int{0, 1, 2}, calls)
	assert.Equal(t, 3, result.Invoked)
	assert.Equal(t, 1, result.Failed)
}

func TestDispatchWithoutHandlers(t *testing.T) {
	d, logs := newObservedDispatcher()
	metrics := monitoring.NewMetrics()
	d.WithMetrics(metrics)

	result := d.Dispatch(context.Background(), Type("orphan"), nil, "scope-a")

	assert.Equal(t, Result{}, result)
	assert.Equal(t, uint64(1), d.StatsFor("orphan").Count)
	assert.Equal(t, 1, logs.FilterMessage("No handlers registered for event type").Len())
	assert.Equal(t, int64(1), metrics.Snapshot().EventsDispatched)
}

func TestHandlerFailureIsContained(t *testing.T) {
	tests := []struct {
		name    string
		failing HandlerFunc
	}{
		{
			name: "returned error",
			failing: func(ctx context.Context, event Event) error {
				return errors.New("boom")
			},
		},
		{
			name: "panic",
			failing: func(ctx context.Context, event Event) error {
				panic("boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, logs := newObservedDispatcher()

			secondRan := false
			_, err := d.Register(TypeStatus, tt.failing)
			require.NoError(t, err)
			_, err = d.RegisterFunc(TypeStatus, func(ctx context.Context, event Event) error {
				secondRan = true
				return nil
			})
			require.NoError(t, err)

			d.Dispatch(context.Background(), TypeStatus, Status{Resource: "docs"}, "")

			assert.True(t, secondRan)
			stats := d.StatsFor(TypeStatus)
			assert.Equal(t, uint64(1), stats.Count)
			assert.Equal(t, uint64(1), stats.Errors)
			assert.Equal(t, 1, logs.FilterMessage("Event handler failed").Len())
		})
	}
}

func TestRegisterRejectsInvalidHandlers(t *testing.T) {
	d, _ := newObservedDispatcher()

	var nilFunc HandlerFunc
	var nilPtr *countingHandler

	tests := []struct {
		name      string
		eventType Type
		handler   Handler
	}{
		{"nil handler", TypeStatus, nil},
		{"nil func", TypeStatus, nilFunc},
		{"nil pointer", TypeStatus, nilPtr},
		{"empty type", "", &countingHandler{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Register(tt.eventType, tt.handler)
			assert.ErrorIs(t, err, ErrInvalidHandler)
		})
	}

	_, err := d.RegisterFunc(TypeStatus, nil)
	assert.ErrorIs(t, err, ErrInvalidHandler)
	assert.False(t, d.HasHandlers(TypeStatus))
}

type countingHandler struct {
	count int
}

func (h *countingHandler) HandleEvent(ctx context.Context, event Event) error {
	h.count++
	return nil
}

func (h *countingHandler) HandlerName() string {
	return "counting"
}

func TestRegistrationCancel(t *testing.T) {
	d, _ := newObservedDispatcher()
	h := &countingHandler{}

	reg, err := d.Register(TypeTerminal, h)
	require.NoError(t, err)
	assert.NotEmpty(t, reg.ID())
	assert.Equal(t, 1, d.HandlerCount(TypeTerminal))

	reg.Cancel()
	reg.Cancel()

	d.Dispatch(context.Background(), TypeTerminal, Terminal{Line: "x"}, "")
	assert.Equal(t, 0, h.count)
	assert.False(t, d.HasHandlers(TypeTerminal))
	assert.Empty(t, d.Types())
}

func TestIntrospection(t *testing.T) {
	d, _ := newObservedDispatcher()

	_, err := d.Register(TypeStatus, &countingHandler{})
	require.NoError(t, err)
	_, err = d.Register(TypeProgress, &countingHandler{})
	require.NoError(t, err)
	_, err = d.RegisterFunc(TypeProgress, func(ctx context.Context, event Event) error {
		return errors.New("nope")
	})
	require.NoError(t, err)

	ctx := context.Background()
	d.Dispatch(ctx, TypeStatus, Status{}, "")
	d.Dispatch(ctx, TypeProgress, Progress{}, "")
	d.Dispatch(ctx, TypeProgress, Progress{}, "")
	d.Dispatch(ctx, TypeError, Error{}, "")

	assert.Equal(t, []Type{TypeProgress, TypeStatus}, d.Types())
	assert.True(t, d.HasHandlers(TypeProgress))
	assert.False(t, d.HasHandlers(TypeError))

	stats := d.Stats()
	assert.Len(t, stats, 3)
	assert.Equal(t, uint64(2), stats[TypeProgress].Count)
	assert.Equal(t, uint64(2), stats[TypeProgress].Errors)
	assert.False(t, stats[TypeStatus].LastSeen.IsZero())

	health := d.Health()
	assert.Equal(t, 3, health.Handlers)
	assert.Equal(t, 2, health.Types)
	assert.Equal(t, uint64(4), health.TotalEvents)
	assert.Equal(t, uint64(2), health.TotalErrors)
	assert.InDelta(t, 0.5, health.ErrorRate, 1e-9)
}

func TestHandlerErrorUnwraps(t *testing.T) {
	d, logs := newObservedDispatcher()
	sentinel := errors.New("sentinel")

	_, err := d.RegisterFunc(TypeChat, func(ctx context.Context, event Event) error {
		return sentinel
	})
	require.NoError(t, err)

	d.Dispatch(context.Background(), TypeChat, Chat{}, "")

	entries := logs.FilterMessage("Event handler failed").All()
	require.Len(t, entries, 1)
	logged, ok := entries[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Contains(t, logged, "sentinel")

	herr := &HandlerError{Type: TypeChat, Handler: "x", Err: sentinel}
	assert.ErrorIs(t, herr, sentinel)
}

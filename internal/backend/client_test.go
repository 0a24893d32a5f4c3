package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/config"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/resilience"
)

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Backend.URL = url
	cfg.Backend.Timeout = config.Duration(5 * time.Second)
	cfg.Retry.MaxRetries = 2
	cfg.Retry.MinWait = config.Duration(time.Millisecond)
	cfg.Retry.MaxWait = config.Duration(5 * time.Millisecond)
	cfg.Retry.BreakerFailures = 2
	cfg.Retry.BreakerTimeout = config.Duration(time.Minute)
	return cfg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientEndpoints(t *testing.T) {
	var saved session.Transcript
	var appended session.Message

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Transcript{
			ID:       r.PathValue("id"),
			Scope:    "docs",
			Messages: []session.Message{{ID: "m1", Text: "hi"}},
		})
	})
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "docs", r.URL.Query().Get("scope"))
		assert.Equal(t, "b1", r.URL.Query().Get("browsing_id"))
		writeJSON(w, http.StatusOK, map[string]any{"sessions": []session.Summary{{ID: "s1"}, {ID: "s2"}}})
	})
	mux.HandleFunc("POST /api/browsing", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "docs", body["scope"])
		writeJSON(w, http.StatusCreated, map[string]string{"browsing_id": "b1"})
	})
	mux.HandleFunc("POST /api/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&appended))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&saved))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/generation/{resource}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": "task-" + r.PathValue("resource")})
	})
	mux.HandleFunc("GET /api/status/{resource}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"files": 4, "chunks": 9, "indexed": true})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	metrics := monitoring.NewMetrics()
	c := New(testConfig(srv.URL), nil, metrics)
	ctx := context.Background()

	transcript, err := c.GetTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", transcript.ID)
	assert.Len(t, transcript.Messages, 1)

	sessions, err := c.ListSessions(ctx, "docs", "b1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	browsingID, err := c.CreateBrowsingSession(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "b1", browsingID)

	require.NoError(t, c.AppendMessage(ctx, "s1", session.Message{ID: "m2", Text: "next"}))
	assert.Equal(t, "m2", appended.ID)

	require.NoError(t, c.SaveSession(ctx, session.Transcript{ID: "s1", Scope: "docs"}))
	assert.Equal(t, "docs", saved.Scope)

	taskID, err := c.TriggerGeneration(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "task-docs", taskID)

	status, err := c.GetStatus(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", status.Resource)
	assert.Equal(t, 4, status.Files)
	assert.True(t, status.Indexed)

	assert.Equal(t, int64(7), metrics.Snapshot().BackendCalls)
}

func TestClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil, nil)
	_, err := c.GetTranscript(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
	assert.False(t, IsServerFailure(err))
	assert.Equal(t, resilience.StateClosed, c.BreakerState())
}

func TestClientRetriesIdempotentRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resource": "docs", "files": 1})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil, nil)
	status, err := c.GetStatus(context.Background(), "docs")

	require.NoError(t, err)
	assert.Equal(t, 1, status.Files)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryPost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil, nil)
	_, err := c.TriggerGeneration(context.Background(), "docs")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.MaxRetries = 0
	c := New(cfg, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.GetStatus(ctx, "docs")
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, c.BreakerState())

	_, err := c.GetStatus(ctx, "docs")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIsServerFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"client error", &StatusError{Status: http.StatusBadRequest}, false},
		{"server error", &StatusError{Status: http.StatusServiceUnavailable}, true},
		{"transport", errors.New("connection refused"), true},
		{"circuit open", resilience.ErrCircuitOpen, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsServerFailure(tt.err))
		})
	}
}

func TestRateLimitZeroIsUnlimited(t *testing.T) {
	c := New(testConfig("http://127.0.0.1:0"), nil, nil)

	c.SetRateLimit(0, 0)
	assert.True(t, c.limiter.Allow())

	c.SetRateLimit(1, 1)
	assert.True(t, c.limiter.Allow())
	assert.False(t, c.limiter.Allow())
}

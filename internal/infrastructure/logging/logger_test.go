package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewBuildsLogger(t *testing.T) {
	logger, err := New(Config{Level: "debug", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.NotNil(t, logger.Logger)
}

func TestFromLevelFallsBack(t *testing.T) {
	tests := []struct {
		name        string
		development bool
		wantDebug   bool
	}{
		{name: "production", development: false, wantDebug: false},
		{name: "development", development: true, wantDebug: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := FromLevel("not-a-level", tt.development)
			require.NotNil(t, logger)
			require.NotNil(t, logger.Logger)
			assert.Equal(t, tt.wantDebug, logger.Core().Enabled(zap.DebugLevel))
		})
	}
}

func TestComponentNamesChild(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := &Logger{Logger: zap.New(core)}

	logger.Component("dispatcher", zap.String("scope", "chat")).Info("ready")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatcher", entries[0].LoggerName)
	assert.Equal(t, "chat", entries[0].ContextMap()["scope"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}

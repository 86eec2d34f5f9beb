package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doubtdesk.log")
	l := New(Options{FilePath: path, Level: "debug"})

	l.Info("realtime", "connected", map[string]interface{}{"transport": "websocket"})
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"module":"realtime"`)
	assert.Contains(t, string(data), `"transport":"websocket"`)
}

func TestNew_NoSinksIsNop(t *testing.T) {
	l := New(Options{})
	l.Error("x", "dropped", nil)
	assert.NoError(t, l.Sync())
}

func TestErrorDetailsAreStringified(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	details := map[string]interface{}{"error": errors.New("boom"), "attempt": 2}
	l.Error("api", "request failed", details)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "request failed", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "api", ctx["module"])
	assert.Equal(t, "boom", ctx["error"])

	_, stillError := details["error"].(error)
	assert.True(t, stillError, "caller's details map must not be mutated")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zap.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zap.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zap.InfoLevel, parseLevel(""))
}

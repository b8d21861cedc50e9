package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetupJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	require.NoError(t, Setup("debug", "json", &buf))

	Component("relay").Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"component":"relay"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	assert.Error(t, Setup("info", "xml", &buf))
}

func TestRemoteLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, RemoteLevel("log"))
	assert.Equal(t, slog.LevelInfo, RemoteLevel("info"))
	assert.Equal(t, slog.LevelDebug, RemoteLevel("debug"))
	assert.Equal(t, slog.LevelWarn, RemoteLevel("warn"))
	assert.Equal(t, slog.LevelError, RemoteLevel("error"))
	assert.Equal(t, slog.LevelInfo, RemoteLevel("trace"))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, slog.String("conn", "0f1e2d3c"), ShortID("conn", "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"))
	assert.Equal(t, slog.String("client", "X"), ShortID("client", "X"))
	assert.Equal(t, slog.String("client", ""), ShortID("client", ""))
}

package logutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type markerHook struct{}

func (markerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Str("marker", "set")
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	l, closer, err := New("info", path)
	require.NoError(t, err)

	l.Info().Msg("hello")
	closer()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"hello"`)
}

func TestNew_AppliesHooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	l, closer, err := New("debug", path, markerHook{})
	require.NoError(t, err)

	l.Info().Msg("hooked")
	closer()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"marker":"set"`)
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New("nope", "")
	require.Error(t, err)
}

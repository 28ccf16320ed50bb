package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))

	log.Info("batch delivered", Int("count", 3), Err(errors.New("boom")), Duration("took", time.Second))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Equal(t, "batch delivered", m["message"])
	require.Equal(t, "dispatch", m["comp"])
	require.EqualValues(t, 3, m["count"])
	require.Equal(t, "boom", m["err"])
	require.True(t, strings.HasPrefix(m["caller"].(string), "logging_test.go:"))
}

func TestWriterLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Debug("hidden")
	log.Info("hidden")
	require.Zero(t, buf.Len())
	require.False(t, log.Enabled(LevelInfo))
	require.True(t, log.Enabled(LevelError))

	log.Warn("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	require.True(t, log.IsZero())
	log.Error("nothing happens")
	require.False(t, Nop().IsZero())
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nudge.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	require.False(t, log.Enabled(LevelDebug))
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	require.True(t, log.Enabled(LevelDebug))
	require.Equal(t, "debug", svc.Config().Level)
}

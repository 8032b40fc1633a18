package logger

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expected := NewLogger(TestConfig())
		ctx := ContextWithLogger(t.Context(), expected)
		actual := FromContext(ctx)
		require.NotNil(t, actual)
		assert.Equal(t, expected, actual)
	})

	t.Run("Should return default logger when no logger in context", func(t *testing.T) {
		l := FromContext(t.Context())
		require.NotNil(t, l)
		l.Info("default logger")
	})

	t.Run("Should return default logger when wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, "not a logger")
		require.NotNil(t, FromContext(ctx))
	})

	t.Run("Should return default logger when nil logger in context", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, (Logger)(nil))
		require.NotNil(t, FromContext(ctx))
	})
}

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	t.Run("Should convert every level", func(t *testing.T) {
		cases := []struct {
			level    LogLevel
			expected int
		}{
			{DebugLevel, -4},
			{InfoLevel, 0},
			{WarnLevel, 4},
			{ErrorLevel, 8},
			{DisabledLevel, 1000},
			{LogLevel("unknown"), 0},
		}
		for _, tc := range cases {
			assert.Equal(t, tc.expected, int(tc.level.ToCharmlogLevel()), "level %s", tc.level)
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write text records to the configured output", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: InfoLevel, Output: &buf, TimeFormat: "15:04:05"})
		l.Info("ingestion started", "file_id", "abc")
		assert.Contains(t, buf.String(), "ingestion started")
		assert.Contains(t, buf.String(), "abc")
	})

	t.Run("Should format JSON when enabled", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true, TimeFormat: "15:04:05"})
		l.Info("json record")
		out := buf.String()
		assert.Contains(t, out, "json record")
		assert.True(t, strings.Contains(out, "{") && strings.Contains(out, "}"))
	})

	t.Run("Should use the test config when nil config is given under go test", func(t *testing.T) {
		l := NewLogger(nil)
		require.NotNil(t, l)
		l.Info("discarded")
	})
}

func TestLogger_With(t *testing.T) {
	t.Run("Should carry additional fields", func(t *testing.T) {
		var buf bytes.Buffer
		base := NewLogger(&Config{Level: InfoLevel, Output: &buf, TimeFormat: "15:04:05"})
		base.With("component", "ingest", "batch", 2).Info("batch uploaded")
		out := buf.String()
		assert.Contains(t, out, "component")
		assert.Contains(t, out, "ingest")
		assert.Contains(t, out, "batch uploaded")
	})
}

func TestLoggerLevels(t *testing.T) {
	t.Run("Should respect level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: WarnLevel, Output: &buf, TimeFormat: "15:04:05"})
		l.Debug("debug hidden")
		l.Info("info hidden")
		l.Warn("warn shown")
		l.Error("error shown")
		out := buf.String()
		assert.NotContains(t, out, "debug hidden")
		assert.NotContains(t, out, "info hidden")
		assert.Contains(t, out, "warn shown")
		assert.Contains(t, out, "error shown")
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Run("Should provide the default configuration", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Equal(t, InfoLevel, cfg.Level)
		assert.Equal(t, os.Stdout, cfg.Output)
		assert.False(t, cfg.JSON)
		assert.Equal(t, "15:04:05", cfg.TimeFormat)
	})

	t.Run("Should provide the test configuration", func(t *testing.T) {
		cfg := TestConfig()
		assert.Equal(t, DisabledLevel, cfg.Level)
		assert.Equal(t, io.Discard, cfg.Output)
	})

	t.Run("Should detect the test binary", func(t *testing.T) {
		assert.True(t, IsTestEnvironment())
	})
}

func TestGetLoggerConfig(t *testing.T) {
	t.Run("Should read the logging flags", func(t *testing.T) {
		cmd := &cobra.Command{Use: "x"}
		cmd.Flags().String("log-level", "info", "")
		cmd.Flags().Bool("log-json", false, "")
		cmd.Flags().Bool("log-source", false, "")
		require.NoError(t, cmd.Flags().Set("log-level", "debug"))
		require.NoError(t, cmd.Flags().Set("log-json", "true"))
		level, jsonOut, source, err := GetLoggerConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, "debug", level)
		assert.True(t, jsonOut)
		assert.False(t, source)
	})

	t.Run("Should fail when a flag is missing", func(t *testing.T) {
		cmd := &cobra.Command{Use: "x"}
		_, _, _, err := GetLoggerConfig(cmd)
		require.Error(t, err)
	})
}

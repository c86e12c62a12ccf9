package logger

import (
	"errors"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"nonsense", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNewWithFile(t *testing.T) {
	l := New(Options{Level: "debug", File: filepath.Join(t.TempDir(), "pointer.log")})
	require.NotNil(t, l)
	l.Info("hello", zap.String("k", "v"))
	_ = l.Sync()
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	got := Truncate("héllo wörld, ça va?", 8)
	assert.Equal(t, "héllo...", got)
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "日本", Truncate("日本語の文章", 2))
	assert.Equal(t, "日本語", Truncate("日本語", 3))
}

func TestWatermillAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := Watermill(zap.New(core)).With(watermill.LogFields{"topic": "cloud-token"})

	a.Info("sent", watermill.LogFields{"message_uuid": "1"})
	a.Trace("acked", nil)
	a.Error("failed", errors.New("boom"), nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "cloud-token", entries[0].ContextMap()["topic"])
	assert.Equal(t, "1", entries[0].ContextMap()["message_uuid"])
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])
}

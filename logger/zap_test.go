package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core))

	l.Info("payment rejected", map[string]any{"reason": "Recipient mismatch", "network": "base"})

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "payment rejected", entries[0].Message)
	ctx := entries[0].ContextMap()
	require.Equal(t, "Recipient mismatch", ctx["reason"])
	require.Equal(t, "base", ctx["network"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	require.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	require.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

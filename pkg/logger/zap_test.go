package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, toZapLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, toZapLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, toZapLevel("nonsense"))
}

func TestZapLogger_KeysAndValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	l.Warn("store tile failed", "z", 3, "x", 1, "y", 2)

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "store tile failed", entries[0].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		assert.Equal(t, int64(3), entries[0].ContextMap()["z"])
	}
}

func TestFromContext(t *testing.T) {
	assert.Equal(t, NewNoop(), FromContext(context.Background()))

	core, _ := observer.New(zapcore.InfoLevel)
	l := NewFromZap(zap.New(core))
	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}

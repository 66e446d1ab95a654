package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPackageHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := InfoLogger
	InfoLogger = zap.New(core)
	old := SetServiceName("ledger-test")
	t.Cleanup(func() {
		InfoLogger = prev
		SetServiceName(old)
	})

	Info("tracer on %s", "localhost:6831")
	Warn("rollback failed: %v", "conn closed")
	Error("%v", "boom")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "rollback failed: conn closed", entries[1].Message)
	assert.Equal(t, "ledger-test", entries[1].ContextMap()["service"])
}

func TestHelpersBeforeNew(t *testing.T) {
	prev := InfoLogger
	InfoLogger = nil
	t.Cleanup(func() { InfoLogger = prev })

	assert.NotPanics(t, func() { Warn("no logger yet") })
}

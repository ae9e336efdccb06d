package internal

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})
	return &buf
}

func TestParseLogLevel(t *testing.T) {
	level, ok := ParseLogLevel("debug")
	assert.True(t, ok)
	assert.Equal(t, LogLevelDebug, level)

	level, ok = ParseLogLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, LogLevelInfo, level)
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buf := captureLog(t)
	logger := NewLogger(LogLevelWarn).With("sweep")

	logger.Info("hidden %d", 1)
	logger.Warn("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] [sweep] shown 2")
}

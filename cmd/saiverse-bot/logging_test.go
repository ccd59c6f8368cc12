// ABOUTME: Tests for the terminal log handler
// ABOUTME: Checks level filtering, attribute rendering and group prefixes

package main

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(&colorHandler{out: &buf, mu: &sync.Mutex{}, level: slog.LevelInfo})

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.With("component", "gateway").WithGroup("conn").Info("host connected", "session_id", 7)
	line := buf.String()
	assert.Contains(t, line, "INF host connected")
	assert.Contains(t, line, " component=gateway")
	assert.Contains(t, line, " conn.session_id=7")

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "input %q", tt.in)
	}
}

func TestInit_WritesThroughTint(t *testing.T) {
	var buf bytes.Buffer
	Init(&Options{Level: slog.LevelDebug, Writer: &buf, NoColor: true})

	Info("round opened", "round", 7)

	assert.Contains(t, buf.String(), "round opened")
	assert.Contains(t, buf.String(), "round=7")
}

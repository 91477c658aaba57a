package utils

import (
	"io"
	"log/slog"
)

// NewLogger returns a JSON logger in production and a text logger elsewhere.
func NewLogger(w io.Writer, environment string) *slog.Logger {
	if environment == ENV_RELEASE {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

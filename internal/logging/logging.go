package logging

import (
	"log/slog"
	"os"
	"strings"
)

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

// Stage returns a child logger tagged with the pipeline stage name, so
// every run of a stage logs under one consistent key.
func Stage(logger *slog.Logger, stage string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("stage", stage)
}

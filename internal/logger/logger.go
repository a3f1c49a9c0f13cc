package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

func Configure(levelStr string, env string) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, levelStr, env)))
}

// NewHandler returns a colourised handler for development and a JSON
// handler for everything else, so backups and decisions stay machine readable.
func NewHandler(w io.Writer, levelStr string, env string) slog.Handler {
	level := parseLogLevel(levelStr)
	if env == "dev" || env == "development" {
		return tint.NewHandler(w, &tint.Options{Level: level})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

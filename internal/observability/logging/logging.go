package logging

import (
	"io"
	"log/slog"
	"os"
)

type Config struct {
	ServiceName string
	Environment string
	Level       string
	Writer      io.Writer // defaults to os.Stdout
}

// NewLogger builds the process-wide JSON logger. Every record carries the
// service and env attributes so logs from several deployments can share a
// sink. Tests inject their own Writer to keep output quiet or inspectable.
func NewLogger(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})

	logger := slog.New(handler)
	if cfg.ServiceName != "" {
		logger = logger.With(
			slog.String("service", cfg.ServiceName),
			slog.String("env", cfg.Environment),
		)
	}
	return logger
}

// ParseLevel maps the LOG_LEVEL knob to a slog level. Unknown values fall
// back to info rather than failing startup.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

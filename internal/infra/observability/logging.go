// Package observability holds the service's structured logging setup and
// its Prometheus metrics.
package observability

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects log level, format and an optional rotated file sink.
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	File       string // empty: stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetupLogger builds the process logger, installs it as the slog default and
// bridges the standard library logger into it. Timestamps, levels and
// messages are emitted under "timestamp", "severity" and "message".
func SetupLogger(service string, cfg LogConfig) *slog.Logger {
	return newLogger(service, cfg, logWriter(cfg), true)
}

// NewLogger returns a logger writing to w without touching globals.
func NewLogger(service string, cfg LogConfig, w io.Writer) *slog.Logger {
	return newLogger(service, cfg, w, false)
}

// NewTestLogger returns a debug-level JSON logger writing to w.
func NewTestLogger(w io.Writer) *slog.Logger {
	return NewLogger("test", LogConfig{Level: "debug", Format: "json"}, w)
}

func newLogger(service string, cfg LogConfig, w io.Writer, global bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", strings.TrimSpace(service))})
	logger := slog.New(handler)

	if global {
		slog.SetDefault(logger)
		stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
		log.SetOutput(stdBridge.Writer())
		log.SetFlags(0)
		log.SetPrefix("")
	}
	return logger
}

func logWriter(cfg LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, rotated)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

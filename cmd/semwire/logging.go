package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/c360/semwire/config"
)

// setupLogger builds the process logger. flagLevel wins over the
// configured level when set.
func setupLogger(w io.Writer, flagLevel, format string, configured config.LogLevel) (*slog.Logger, error) {
	level := configured
	if flagLevel != "" {
		level = config.LogLevel(flagLevel)
	}
	logLevel, err := level.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
	), nil
}

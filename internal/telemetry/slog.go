package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// levelVar backs the installed handler so the log level can be changed at
// runtime (e.g. when the config file is rewritten) without rebuilding the
// logger or racing in-flight log calls.
var levelVar slog.LevelVar

// SetupLogger configures the global slog default logger based on the supplied format and level
// strings read from application configuration.
//
// format: "json"  → JSONHandler (machine readable; recommended for production)
//
//	anything else → TextHandler (human readable; suitable for local development)
//
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
//
// The configured logger is installed as the default so all slog.Info/Warn/Error calls elsewhere
// in the application automatically use it without needing to carry a *slog.Logger in context.
func SetupLogger(format, level string) {
	lvl := ParseLevel(level)
	levelVar.Set(lvl)

	opts := &slog.HandlerOptions{
		Level:     &levelVar,
		AddSource: lvl == slog.LevelDebug, // include file:line only when debugging
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

// SetLevel changes the minimum level of the default logger at runtime.
func SetLevel(level string) {
	lvl := ParseLevel(level)
	if levelVar.Level() == lvl {
		return
	}
	levelVar.Set(lvl)
	slog.Info("log level changed", "level", lvl.String())
}

// ParseLevel maps a configuration string to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

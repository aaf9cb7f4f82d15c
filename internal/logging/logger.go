package logging

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger initializes the structured logger based on environment configuration.
// LOG_LEVEL selects the minimum level, LOG_FORMAT selects text or json output.
func InitLogger() {
	logLevel := getLogLevel()
	logFormat := getLogFormat()

	handlerOpts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true, // Include file and line number
	}

	var handler slog.Handler
	switch logFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	default:
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}

	slog.SetDefault(slog.New(handler))

	slog.Info("logger initialized",
		"level", logLevel.String(),
		"format", logFormat,
	)
}

func getLogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getLogFormat() string {
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		return "json"
	default:
		return "text"
	}
}

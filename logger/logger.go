package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Init initializes the file logger, writing to assist.log in the current directory.
// Log level can be configured via LOG_LEVEL environment variable (debug, info, warn, error).
func Init() (zerolog.Logger, error) {
	return InitWithOptions("assist.log", false)
}

// InitWithOptions initializes the logger with the specified options.
// If logFile is empty, logs go to stderr so that stdout stays free for
// assistant output. If pretty is true, uses ConsoleWriter for human-readable
// output (only valid when logFile is empty).
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	return InitWithLevel(logFile, pretty, os.Getenv("LOG_LEVEL"))
}

// InitWithLevel is InitWithOptions with an explicit level name. An empty
// level falls back to info.
func InitWithLevel(logFile string, pretty bool, levelName string) (zerolog.Logger, error) {
	level := ParseLevel(levelName)

	var output io.Writer
	switch {
	case logFile != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
	case pretty:
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	default:
		output = os.Stderr
	}

	log := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	if logFile != "" {
		log.Debug().Str("path", logFile).Str("level", level.String()).Msg("Logger initialized")
	} else {
		log.Debug().Str("output", "stderr").Bool("pretty", pretty).Str("level", level.String()).Msg("Logger initialized")
	}

	return log, nil
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

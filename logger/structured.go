// Package logger configures zerolog and provides the structured, sanitized
// log sink every component of the assistant reports through.
package logger

import (
	"sync"
	"time"

	"github.com/aschepis/backscratcher/assist/apperr"
)

// Level of a structured entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// LevelForSeverity maps an error severity to the log level it is reported at.
func LevelForSeverity(s apperr.Severity) Level {
	switch s {
	case apperr.SeverityInfo:
		return LevelInfo
	case apperr.SeverityWarn:
		return LevelWarn
	case apperr.SeverityFatal:
		return LevelFatal
	default:
		return LevelError
	}
}

// Source names the part of the application an entry came from.
type Source string

const (
	SourceMain     Source = "main"
	SourceRenderer Source = "renderer"
	SourceRunner   Source = "runner"
)

// Entry is one structured log record. Data has already been sanitized.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Level         Level     `json:"level"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Data          any       `json:"data,omitempty"`
	Source        Source    `json:"source"`
}

// Sink receives sanitized entries. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(Entry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Entry)

// Write calls f.
func (f SinkFunc) Write(e Entry) { f(e) }

// Logger fans sanitized entries out to its sinks. A nil *Logger discards
// everything, so components can log unconditionally.
type Logger struct {
	source Source
	now    func() time.Time

	mu    sync.RWMutex
	sinks []Sink
}

// New returns a Logger tagging entries with source.
func New(source Source, sinks ...Sink) *Logger {
	return &Logger{source: source, now: time.Now, sinks: sinks}
}

// AddSink registers another sink.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Info logs at info level.
func (l *Logger) Info(msg, correlationID string, data any) {
	l.Log(LevelInfo, msg, correlationID, data)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg, correlationID string, data any) {
	l.Log(LevelWarn, msg, correlationID, data)
}

// Error logs at error level.
func (l *Logger) Error(msg, correlationID string, data any) {
	l.Log(LevelError, msg, correlationID, data)
}

// Fatal logs at fatal level. It does not exit the process.
func (l *Logger) Fatal(msg, correlationID string, data any) {
	l.Log(LevelFatal, msg, correlationID, data)
}

// LogError reports a classified error at the level matching its severity.
func (l *Logger) LogError(msg string, err *apperr.AppError) {
	if err == nil {
		return
	}
	l.Log(LevelForSeverity(err.Severity()), msg, err.CorrelationID, map[string]any{
		"code":      err.Code(),
		"retryable": err.Retryable(),
		"details":   err.Details,
	})
}

// Log sanitizes data and hands the entry to every sink.
func (l *Logger) Log(level Level, msg, correlationID string, data any) {
	if l == nil {
		return
	}
	entry := Entry{
		Timestamp:     l.now(),
		Level:         level,
		Message:       msg,
		CorrelationID: correlationID,
		Data:          Sanitize(data),
		Source:        l.source,
	}

	l.mu.RLock()
	sinks := l.sinks
	l.mu.RUnlock()

	for _, s := range sinks {
		s.Write(entry)
	}
}

package logger

import (
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// ZerologSink writes entries through a zerolog logger. Fatal entries are
// written at error level plus a fatal flag; they never exit the process.
type ZerologSink struct {
	log zerolog.Logger
}

// NewZerologSink returns a sink writing to log.
func NewZerologSink(log zerolog.Logger) *ZerologSink {
	return &ZerologSink{log: log}
}

// Write implements Sink.
func (s *ZerologSink) Write(e Entry) {
	var evt *zerolog.Event
	switch e.Level {
	case LevelInfo:
		evt = s.log.Info()
	case LevelWarn:
		evt = s.log.Warn()
	case LevelFatal:
		evt = s.log.Error().Bool("fatal", true)
	default:
		evt = s.log.Error()
	}
	evt = evt.Str("source", string(e.Source))
	if e.CorrelationID != "" {
		evt = evt.Str("correlation_id", e.CorrelationID)
	}
	if e.Data != nil {
		evt = evt.Interface("data", e.Data)
	}
	evt.Msg(e.Message)
}

// DefaultRingSize is the number of entries kept by NewRingSink(0).
const DefaultRingSize = 500

// RingSink keeps the newest entries in memory, e.g. for a log panel.
type RingSink struct {
	mu      sync.Mutex
	size    int
	entries []Entry // oldest first
}

// NewRingSink returns a sink that keeps at most size entries.
func NewRingSink(size int) *RingSink {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingSink{size: size}
}

// Write implements Sink.
func (r *RingSink) Write(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if over := len(r.entries) - r.size; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
}

// Entries returns a copy of the stored entries, newest first.
func (r *RingSink) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[len(r.entries)-1-i] = e
	}
	return out
}

// Clear drops all stored entries.
func (r *RingSink) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// NotifySink raises a desktop notification for error and fatal entries.
type NotifySink struct {
	title  string
	notify func(title, message string) error
	log    zerolog.Logger
}

// NewNotifySink returns a sink that notifies through the OS notification
// center. Failures to notify are logged to log and otherwise ignored.
func NewNotifySink(title string, log zerolog.Logger) *NotifySink {
	return &NotifySink{
		title: title,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		log: log.With().Str("component", "notify_sink").Logger(),
	}
}

// Write implements Sink.
func (n *NotifySink) Write(e Entry) {
	if e.Level != LevelError && e.Level != LevelFatal {
		return
	}
	if err := n.notify(n.title, e.Message); err != nil {
		n.log.Debug().Err(err).Msg("Failed to send desktop notification")
	}
}

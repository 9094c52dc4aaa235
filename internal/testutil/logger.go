package testutil

import (
	"context"
	"sync"

	"sendmail-oauth2/internal/common/logging"
)

// LogEntry is one call captured by RecordingLogger
type LogEntry struct {
	Level   logging.LogLevel
	Message string
	Err     error
	Fields  map[string]interface{}
}

// RecordingLogger captures log calls so tests can assert on them
type RecordingLogger struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	fields  []logging.Field
}

// NewRecordingLogger creates an empty RecordingLogger
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{
		mu:      &sync.Mutex{},
		entries: &[]LogEntry{},
	}
}

func (l *RecordingLogger) record(level logging.LogLevel, msg string, err error, fields []logging.Field) {
	all := make(map[string]interface{}, len(l.fields)+len(fields))
	for _, f := range l.fields {
		all[f.Key] = f.Value
	}
	for _, f := range fields {
		all[f.Key] = f.Value
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, LogEntry{Level: level, Message: msg, Err: err, Fields: all})
}

func (l *RecordingLogger) Debug(msg string, fields ...logging.Field) {
	l.record(logging.DebugLevel, msg, nil, fields)
}

func (l *RecordingLogger) Info(msg string, fields ...logging.Field) {
	l.record(logging.InfoLevel, msg, nil, fields)
}

func (l *RecordingLogger) Warn(msg string, fields ...logging.Field) {
	l.record(logging.WarnLevel, msg, nil, fields)
}

func (l *RecordingLogger) Error(msg string, err error, fields ...logging.Field) {
	l.record(logging.ErrorLevel, msg, err, fields)
}

// WithFields returns a logger sharing the same entry list
func (l *RecordingLogger) WithFields(fields ...logging.Field) logging.Logger {
	merged := append(append([]logging.Field{}, l.fields...), fields...)
	return &RecordingLogger{mu: l.mu, entries: l.entries, fields: merged}
}

func (l *RecordingLogger) WithContext(ctx context.Context) logging.Logger {
	return l
}

// Entries returns a copy of everything logged so far
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(*l.entries))
	copy(out, *l.entries)
	return out
}

// Find returns the entries logged with the given message
func (l *RecordingLogger) Find(msg string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

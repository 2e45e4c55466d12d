package audit

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// NoopLogger discards every event
type NoopLogger struct{}

func (NoopLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (NoopLogger) Close() error {
	return nil
}

// LogrusLogger writes one JSON line per event through logrus
type LogrusLogger struct {
	logger *logrus.Logger
	closer io.Closer
}

// NewLogrusLogger creates an audit logger writing JSON to out. A nil out writes
// to stdout.
func NewLogrusLogger(out io.Writer) *LogrusLogger {
	if out == nil {
		out = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})

	l := &LogrusLogger{logger: logger}
	if c, ok := out.(io.Closer); ok && out != os.Stdout && out != os.Stderr {
		l.closer = c
	}
	return l
}

// Log writes event. Denied and failed events are logged at warn level.
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	fields := logrus.Fields{
		"audit_id":   event.ID,
		"event_type": event.EventType,
		"status":     event.Status,
	}
	addField(fields, "actor_id", event.ActorID)
	addField(fields, "actor_role", event.ActorRole)
	addField(fields, "organization_id", event.OrganizationID)
	addField(fields, "resource_type", string(event.ResourceType))
	addField(fields, "resource_id", event.ResourceID)
	addField(fields, "ip_address", event.IPAddress)
	addField(fields, "user_agent", event.UserAgent)
	addField(fields, "request_id", event.RequestID)
	addField(fields, "method", event.Method)
	addField(fields, "path", event.Path)
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields).WithTime(event.Timestamp)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// Close closes the underlying writer when it is closable
func (l *LogrusLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func addField(fields logrus.Fields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

// MemoryLogger keeps events in memory
type MemoryLogger struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryLogger creates an empty in-memory audit logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) Log(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *event
	m.events = append(m.events, &copied)
	return nil
}

func (m *MemoryLogger) Close() error { return nil }

// Events returns a snapshot of the recorded events
func (m *MemoryLogger) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

// ByType returns the recorded events of one type
func (m *MemoryLogger) ByType(eventType EventType) []*Event {
	var out []*Event
	for _, e := range m.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MultiLogger fans events out to several loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to every destination
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes to every logger, continuing past failures
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

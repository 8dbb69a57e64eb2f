// Package logger provides the structured logger shared by all services.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// Logger wraps a logrus logger and tags every entry with the owning service.
type Logger struct {
	*logrus.Logger
	name string
}

// New creates a logger for the named service with the given level and format
// ("json" or "text").
func New(name, level, format string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	base.AddHook(serviceHook{name: name})
	return &Logger{Logger: base, name: name}
}

// NewDefault creates an info-level JSON logger.
func NewDefault(name string) *Logger {
	return New(name, "info", "json")
}

// NewDiscard returns a logger that drops everything. Useful in tests.
func NewDiscard(name string) *Logger {
	l := NewDefault(name)
	l.SetOutput(io.Discard)
	return l
}

// Name returns the service name stamped on entries.
func (l *Logger) Name() string {
	return l.name
}

// WithContext returns an entry carrying the fields stored in ctx by ContextWithFields.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithContext(ctx)
	if ctx == nil {
		return entry
	}
	if fields, ok := ctx.Value(ctxKey{}).(logrus.Fields); ok {
		entry = entry.WithFields(fields)
	}
	return entry
}

// ContextWithFields attaches log fields to ctx for later WithContext calls.
func ContextWithFields(ctx context.Context, fields map[string]any) context.Context {
	merged := logrus.Fields{}
	if existing, ok := ctx.Value(ctxKey{}).(logrus.Fields); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, ctxKey{}, merged)
}

type serviceHook struct {
	name string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = h.name
	}
	return nil
}

// Package logger provides context-aware structured logging using logrus.
// Packages log through G(ctx) so fields attached by callers, such as the
// request path or the session id, travel with the context.
package logger

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// G retrieves the logger carried by a context
	G = GetLogger
	// L is the process-wide logger used when a context carries none
	L = logrus.NewEntry(newLogger())
)

type loggerKey struct{}

// WithLogger returns a context carrying the given entry
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry.WithContext(ctx))
}

// WithFields returns a context whose logger carries the given fields on top
// of the ones already attached
func WithFields(ctx context.Context, fields map[string]any) context.Context {
	return WithLogger(ctx, G(ctx).WithFields(fields))
}

// GetLogger returns the entry attached to ctx, or L
func GetLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return entry
	}
	return L.WithContext(ctx)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Formatter = newFormatter("fmt")
	return l
}

// newFormatter returns the formatter for "json", or the text formatter for
// "fmt", "text" and anything else
func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "logLevel",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
	}
	return &logrus.TextFormatter{
		TimestampFormat: time.RFC3339Nano,
		FullTimestamp:   true,
	}
}

// Configure applies a level and format to L. An empty level leaves the
// current level untouched.
func Configure(level, format string) error {
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", level)
		}
		L.Logger.SetLevel(parsed)
	}
	L.Logger.Formatter = newFormatter(format)
	return nil
}

// SetLogOutput redirects L, mostly for tests
func SetLogOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}

package core

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

var defaultLogger = logrus.StandardLogger()

// WithLogger attaches a request scoped logger to ctx.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry)
}

// SetDefaultLogger replaces the logger used when a context carries none.
func SetDefaultLogger(logger *logrus.Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		switch typed := ctx.Value(loggerKey{}).(type) {
		case *logrus.Entry:
			return typed
		case *logrus.Logger:
			return logrus.NewEntry(typed)
		}
	}
	return logrus.NewEntry(defaultLogger)
}

func logWithFields(ctx context.Context, level logrus.Level, msg string, fields logrus.Fields) {
	loggerFromContext(ctx).WithFields(fields).Log(level, msg)
}

// Package vlog provides the vault runtime's structured logging, matching
// the teacher's fs.Debugf(description, format, args...) call shape but
// backed by a package logrus instance with structured fields.
package vlog

import (
	"context"

	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

type ctxKey int

const fieldsKey ctxKey = 0

// WithFields returns a context carrying fields that subsequent Debugf/
// Infof/Errorf calls against it will attach to every log line.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	merged := logrus.Fields{}
	for k, v := range fieldsFromContext(ctx) {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey, merged)
}

func fieldsFromContext(ctx context.Context) logrus.Fields {
	if f, ok := ctx.Value(fieldsKey).(logrus.Fields); ok {
		return f
	}
	return logrus.Fields{}
}

func entry(ctx context.Context) *logrus.Entry {
	return log.WithFields(fieldsFromContext(ctx))
}

// Debugf logs a low-level tracing message, matching rclone's
// fs.Debugf(description, format, args...) convention.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Debugf(format, args...)
}

// Infof logs an operational message.
func Infof(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Infof(format, args...)
}

// Errorf logs a failure. Never pass raw key bytes or ciphertext as args.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Errorf(format, args...)
}

// SetLevel adjusts the package logger's verbosity.
func SetLevel(level logrus.Level) { log.SetLevel(level) }

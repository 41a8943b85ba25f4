// Package logging is the logging facade shared by the coordinator, the
// router and the transports. Each backend (slog, zap, logrus-style entries,
// a Watermill adapter) only implements a sink; ServiceLogger is built on top.
package logging

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/ThreeDotsLabs/watermill"
)

// LevelTrace sits below slog's debug level, matching Watermill's trace level.
const LevelTrace = slog.LevelDebug - 4

// LogFields are structured key/value pairs attached to a log line.
type LogFields map[string]any

// ServiceLogger is the logger the coordinator and the Service write to. It
// covers Watermill's levels plus Warn, so the router can log through it too.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// EntryLogger is EntryLoggerAdapter bound to itself, for callers that hold
// the interface rather than a concrete entry type.
type EntryLogger interface {
	EntryLoggerAdapter[EntryLogger]
}

// EntryLoggerAdapter is the method set NewEntryServiceLogger needs.
// *logrus.Entry satisfies it directly.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Warn(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// sink writes one line at a level. err is only set for errors.
type sink interface {
	write(level slog.Level, msg string, err error, fields LogFields)
	with(fields LogFields) sink
}

type serviceLogger struct {
	out sink
}

func (l serviceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return l
	}
	return serviceLogger{out: l.out.with(fields)}
}

func (l serviceLogger) Trace(msg string, fields LogFields) {
	l.out.write(LevelTrace, msg, nil, fields)
}

func (l serviceLogger) Debug(msg string, fields LogFields) {
	l.out.write(slog.LevelDebug, msg, nil, fields)
}

func (l serviceLogger) Info(msg string, fields LogFields) {
	l.out.write(slog.LevelInfo, msg, nil, fields)
}

func (l serviceLogger) Warn(msg string, fields LogFields) {
	l.out.write(slog.LevelWarn, msg, nil, fields)
}

func (l serviceLogger) Error(msg string, err error, fields LogFields) {
	l.out.write(slog.LevelError, msg, err, fields)
}

// NewSlogServiceLogger logs through log. Errors go under the "error" key.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("commitguard: slog logger cannot be nil")
	}
	return serviceLogger{out: slogSink{log: log}}
}

type slogSink struct {
	log *slog.Logger
}

func (s slogSink) write(level slog.Level, msg string, err error, fields LogFields) {
	args := slogArgs(fields)
	if err != nil {
		args = append(args, "error", err)
	}
	s.log.Log(context.Background(), level, msg, args...)
}

func (s slogSink) with(fields LogFields) sink {
	return slogSink{log: s.log.With(slogArgs(fields)...)}
}

// slogArgs flattens fields in key order so output is stable.
func slogArgs(fields LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, k, fields[k])
	}
	return args
}

// NewWatermillServiceLogger logs through a Watermill adapter. Watermill has
// no warning level, so warnings are written at info with severity=warn.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("commitguard: watermill logger cannot be nil")
	}
	return serviceLogger{out: watermillSink{log: logger}}
}

type watermillSink struct {
	log watermill.LoggerAdapter
}

func (w watermillSink) write(level slog.Level, msg string, err error, fields LogFields) {
	wf := watermill.LogFields(fields)
	switch {
	case level >= slog.LevelError:
		w.log.Error(msg, err, wf)
	case level >= slog.LevelWarn:
		warn := make(watermill.LogFields, len(fields)+1)
		maps.Copy(warn, wf)
		warn["severity"] = "warn"
		w.log.Info(msg, warn)
	case level >= slog.LevelInfo:
		w.log.Info(msg, wf)
	case level >= slog.LevelDebug:
		w.log.Debug(msg, wf)
	default:
		w.log.Trace(msg, wf)
	}
}

func (w watermillSink) with(fields LogFields) sink {
	return watermillSink{log: w.log.With(watermill.LogFields(fields))}
}

// NewEntryServiceLogger logs through an entry-style logger such as
// *logrus.Entry. Fields are attached with WithField one at a time.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("commitguard: entry logger cannot be nil")
	}
	return serviceLogger{out: entrySink[T]{entry: entry}}
}

type entrySink[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (e entrySink[T]) write(level slog.Level, msg string, err error, fields LogFields) {
	entry := withEntryFields(e.entry, fields)
	switch {
	case level >= slog.LevelError:
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Error(msg)
	case level >= slog.LevelWarn:
		entry.Warn(msg)
	case level >= slog.LevelInfo:
		entry.Info(msg)
	case level >= slog.LevelDebug:
		entry.Debug(msg)
	default:
		entry.Trace(msg)
	}
}

func (e entrySink[T]) with(fields LogFields) sink {
	return entrySink[T]{entry: withEntryFields(e.entry, fields)}
}

func withEntryFields[T EntryLoggerAdapter[T]](entry T, fields LogFields) T {
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		entry = entry.WithField(k, fields[k])
	}
	return entry
}

// NewWatermillAdapter exposes log as a Watermill LoggerAdapter so the router
// and the transports write to the same place as the coordinator.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("commitguard: ServiceLogger cannot be nil")
	}
	return routerLogger{log: log}
}

type routerLogger struct {
	log ServiceLogger
}

func (r routerLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.log.Error(msg, err, LogFields(fields))
}

func (r routerLogger) Info(msg string, fields watermill.LogFields) {
	r.log.Info(msg, LogFields(fields))
}

func (r routerLogger) Debug(msg string, fields watermill.LogFields) {
	r.log.Debug(msg, LogFields(fields))
}

func (r routerLogger) Trace(msg string, fields watermill.LogFields) {
	r.log.Trace(msg, LogFields(fields))
}

func (r routerLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return routerLogger{log: r.log.With(LogFields(fields))}
}

// Nop returns a ServiceLogger that drops everything.
func Nop() ServiceLogger {
	return NewWatermillServiceLogger(watermill.NopLogger{})
}

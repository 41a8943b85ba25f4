package logging

import (
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapServiceLogger logs through a zap logger. zap has no trace level;
// trace lines are written at debug with trace=true.
func NewZapServiceLogger(log *zap.Logger) ServiceLogger {
	if log == nil {
		panic("commitguard: zap logger cannot be nil")
	}
	return serviceLogger{out: zapSink{log: log}}
}

type zapSink struct {
	log *zap.Logger
}

func (z zapSink) write(level slog.Level, msg string, err error, fields LogFields) {
	zf := zapFields(fields)
	lvl := zapcore.DebugLevel
	switch {
	case level >= slog.LevelError:
		lvl = zapcore.ErrorLevel
		if err != nil {
			zf = append(zf, zap.Error(err))
		}
	case level >= slog.LevelWarn:
		lvl = zapcore.WarnLevel
	case level >= slog.LevelInfo:
		lvl = zapcore.InfoLevel
	case level < slog.LevelDebug:
		zf = append(zf, zap.Bool("trace", true))
	}
	if ce := z.log.Check(lvl, msg); ce != nil {
		ce.Write(zf...)
	}
}

func (z zapSink) with(fields LogFields) sink {
	return zapSink{log: z.log.With(zapFields(fields)...)}
}

func zapFields(fields LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields)+1)
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

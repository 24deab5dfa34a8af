// Package qlog provides structured logging for queue internals, in the
// shape of quarry/log: a non-sugared zap.Logger for the hot path plus a
// Sugar() escape hatch for CLI/debug surfaces.
package qlog

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with queue identity context attached to every
// entry (queue id, swap manager kind), mirroring how quarry/log attaches
// run_id/attempt to every entry.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI/debug surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// QueueMeta is the identity context attached to every log entry produced
// for a given queue, the queue-package counterpart of quarry's RunMeta.
type QueueMeta struct {
	QueueID    string
	SwapKind   string // "filestore", "redisstore", "s3store", ...
}

// New creates a queue-scoped logger writing JSON to os.Stderr.
func New(meta QueueMeta) *Logger {
	return newWithWriter(meta, os.Stderr)
}

// WithOutput returns a clone of the logger writing to a different
// destination, used by tests that want to assert on emitted lines.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func newWithWriter(meta QueueMeta, w io.Writer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), zapcore.DebugLevel)

	fields := []zap.Field{zap.String("queue_id", meta.QueueID)}
	if meta.SwapKind != "" {
		fields = append(fields, zap.String("swap_kind", meta.SwapKind))
	}

	return &Logger{zap: zap.New(core).With(fields...)}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

func (l *Logger) Debug(message string, fields map[string]any) { l.zap.Debug(message, zap.Any("fields", fields)) }
func (l *Logger) Info(message string, fields map[string]any)  { l.zap.Info(message, zap.Any("fields", fields)) }
func (l *Logger) Warn(message string, fields map[string]any)  { l.zap.Warn(message, zap.Any("fields", fields)) }
func (l *Logger) Error(message string, fields map[string]any) { l.zap.Error(message, zap.Any("fields", fields)) }

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger { return &SugaredLogger{sugar: l.zap.Sugar()} }

func (s *SugaredLogger) Infof(template string, args ...any)  { s.sugar.Infof(template, args...) }
func (s *SugaredLogger) Warnf(template string, args ...any)  { s.sugar.Warnf(template, args...) }
func (s *SugaredLogger) Errorf(template string, args ...any) { s.sugar.Errorf(template, args...) }

package logging

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap SugaredLogger to Logger.
type ZapLogger struct {
	l *zap.SugaredLogger
}

func NewZapLogger(l *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{l: l}
}

// BuildZap creates a zap logger writing to w with ISO8601 timestamps.
// Development mode switches to the console encoder and debug level.
func BuildZap(development bool, w io.Writer) *ZapLogger {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "time"

	enc := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	stack := zapcore.ErrorLevel
	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if development {
		enc = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
		stack = zapcore.WarnLevel
		opts = append(opts, zap.Development())
	}
	opts = append(opts, zap.AddStacktrace(stack))

	core := zapcore.NewCore(enc, zapcore.AddSync(w), cfg.Level)
	return NewZapLogger(zap.New(core, opts...).Sugar())
}

func (z *ZapLogger) Debug(ctx context.Context, msg string, args ...any) {
	z.l.Debugw(msg, withContextArgs(ctx, args)...)
}

func (z *ZapLogger) Info(ctx context.Context, msg string, args ...any) {
	z.l.Infow(msg, withContextArgs(ctx, args)...)
}

func (z *ZapLogger) Warn(ctx context.Context, msg string, args ...any) {
	z.l.Warnw(msg, withContextArgs(ctx, args)...)
}

func (z *ZapLogger) Error(ctx context.Context, msg string, args ...any) {
	z.l.Errorw(msg, withContextArgs(ctx, args)...)
}

func (z *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{l: z.l.With(args...)}
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.l.Sync()
}

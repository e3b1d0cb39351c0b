// Package monitoring provides the observability implementations: the zap
// logging adapter, Prometheus metrics and OpenTelemetry tracing.
package monitoring

import (
	"context"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/searchguard/searchguard/internal/config"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

type zapLogger struct {
	zl *zap.Logger
}

// NewZapLogger creates a zap-backed logger.Logger writing JSON to stdout.
func NewZapLogger(cfg *config.LogConfig) (logger.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	return &zapLogger{zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))}, nil
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...logger.Field) {
	l.zl.Debug(msg, l.convert(ctx, fields)...)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...logger.Field) {
	l.zl.Info(msg, l.convert(ctx, fields)...)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...logger.Field) {
	l.zl.Warn(msg, l.convert(ctx, fields)...)
}

func (l *zapLogger) Error(ctx context.Context, msg string, err error, fields ...logger.Field) {
	l.zl.Error(msg, append(l.convert(ctx, fields), zap.Error(err))...)
}

func (l *zapLogger) Fatal(ctx context.Context, msg string, err error, fields ...logger.Field) {
	l.zl.Fatal(msg, append(l.convert(ctx, fields), zap.Error(err))...)
}

func (l *zapLogger) WithFields(fields ...logger.Field) logger.Logger {
	return &zapLogger{l.zl.With(l.convert(context.Background(), fields)...)}
}

func (l *zapLogger) WithComponent(component string) logger.Logger {
	return &zapLogger{l.zl.With(zap.String("component", component))}
}

// convert maps logger fields to zap fields and attaches the trace id from
// the active span or the request context when present.
func (l *zapLogger) convert(ctx context.Context, fields []logger.Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)+1)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		zapFields = append(zapFields, zap.String("trace_id", span.SpanContext().TraceID().String()))
	} else if traceID, ok := ctx.Value(constants.ContextKeyTraceID).(string); ok {
		zapFields = append(zapFields, zap.String("trace_id", traceID))
	}

	for _, f := range fields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	return zapFields
}

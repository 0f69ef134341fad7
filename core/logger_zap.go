package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger is the production Logger implementation, backed by
// go.uber.org/zap. It preserves the field-map call signature and the
// component-naming convention of the framework's original hand-rolled
// JSON logger, while delegating encoding, sampling and level filtering
// to zap.
type zapLogger struct {
	base      *zap.Logger
	component string
}

// NewZapLogger builds a Logger from LoggingConfig and DevelopmentConfig.
func NewZapLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) (Logger, error) {
	level := parseZapLevel(logging.Level, dev.DebugLogging)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var encoder zapcore.Encoder
	if logging.Format == "text" || dev.PrettyLogs {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink, closeFn, err := zap.Open(outputPaths(logging.Output)...)
	if err != nil {
		return nil, fmt.Errorf("opening log sink: %w", err)
	}
	_ = closeFn

	core := zapcore.NewCore(encoder, sink, level)
	base := zap.New(core).With(
		zap.String("service", serviceName),
	)

	return &zapLogger{base: base, component: "framework"}, nil
}

func outputPaths(output string) []string {
	switch output {
	case "stderr":
		return []string{"stderr"}
	case "":
		return []string{"stdout"}
	default:
		return []string{output}
	}
}

func parseZapLevel(level string, debug bool) zapcore.Level {
	if debug {
		return zapcore.DebugLevel
	}
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (l *zapLogger) Info(msg string, fields map[string]interface{}) {
	l.base.With(zap.String("component", l.component)).Info(msg, toZapFields(fields)...)
}

func (l *zapLogger) Error(msg string, fields map[string]interface{}) {
	l.base.With(zap.String("component", l.component)).Error(msg, toZapFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields map[string]interface{}) {
	l.base.With(zap.String("component", l.component)).Warn(msg, toZapFields(fields)...)
}

func (l *zapLogger) Debug(msg string, fields map[string]interface{}) {
	l.base.With(zap.String("component", l.component)).Debug(msg, toZapFields(fields)...)
}

func (l *zapLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, withTraceFields(ctx, fields))
}

func (l *zapLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withTraceFields(ctx, fields))
}

func (l *zapLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, withTraceFields(ctx, fields))
}

func (l *zapLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, withTraceFields(ctx, fields))
}

// WithComponent returns a Logger tagged with the given component name,
// satisfying ComponentAwareLogger.
func (l *zapLogger) WithComponent(component string) Logger {
	return &zapLogger{base: l.base, component: component}
}

func withTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	if ctx == nil {
		return fields
	}
	registry := GetGlobalMetricsRegistry()
	if registry == nil {
		return fields
	}
	baggage := registry.GetBaggage(ctx)
	if len(baggage) == 0 {
		return fields
	}
	merged := make(map[string]interface{}, len(fields)+len(baggage))
	for k, v := range fields {
		merged[k] = v
	}
	for k, v := range baggage {
		merged["trace."+k] = v
	}
	return merged
}

var _ ComponentAwareLogger = (*zapLogger)(nil)

package logger

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// componentNameKey is a context key for storing the component name.
type componentNameKeyType string

const componentNameKey componentNameKeyType = "componentName"

var current atomic.Pointer[zap.Logger]

func init() {
	// Configure development logger
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // Add color to level output
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	l, err := config.Build()
	if err != nil {
		panic(err)
	}
	current.Store(l)
	zap.ReplaceGlobals(l) // Set as global logger
}

// L returns the application-wide logger.
func L() *zap.Logger {
	return current.Load()
}

// SetLogger replaces the application-wide logger.
// Tests use it to capture output with zaptest/observer.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return L().Sync()
}

// ComponentName extracts the component name from the context.
func ComponentName(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if name, ok := ctx.Value(componentNameKey).(string); ok {
		return name
	}
	return "unknown" // Default if not found in context
}

// WithComponentName creates a new context with the component name set.
// Pages, schedulers and components use it to identify themselves in log lines.
func WithComponentName(ctx context.Context, componentName string) context.Context {
	return context.WithValue(ctx, componentNameKey, componentName)
}

func withComponent(ctx context.Context, fields []zap.Field) []zap.Field {
	return append(fields, zap.String("component", ComponentName(ctx)))
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().Info(msg, withComponent(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().Warn(msg, withComponent(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	L().Error(msg, withComponent(ctx, fields)...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	L().Fatal(msg, withComponent(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	L().Debug(msg, withComponent(ctx, fields)...)
}

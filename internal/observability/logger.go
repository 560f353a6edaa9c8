package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type batchScopeKey struct{}

type batchScope struct {
	BatchID   string
	ProjectID string
	TaskID    string
}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// WithBatchScope attaches batch identifiers to ctx for ScopedLogger.
// taskID may be empty outside of chunk processing.
func WithBatchScope(ctx context.Context, batchID, projectID, taskID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, batchScopeKey{}, batchScope{
		BatchID:   batchID,
		ProjectID: projectID,
		TaskID:    taskID,
	})
}

func scopeFromContext(ctx context.Context) (batchScope, bool) {
	if ctx == nil {
		return batchScope{}, false
	}
	scope, ok := ctx.Value(batchScopeKey{}).(batchScope)
	return scope, ok
}

// ScopedLogger returns logger enriched with the batch scope carried by ctx.
func ScopedLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	scope, ok := scopeFromContext(ctx)
	if !ok {
		return logger
	}

	fields := make([]zap.Field, 0, 3)
	if scope.BatchID != "" {
		fields = append(fields, zap.String("batchId", scope.BatchID))
	}
	if scope.ProjectID != "" {
		fields = append(fields, zap.String("projectId", scope.ProjectID))
	}
	if scope.TaskID != "" {
		fields = append(fields, zap.String("taskId", scope.TaskID))
	}
	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

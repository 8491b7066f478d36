package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	taskIDKey
	waveKey
)

// WithRunID tags ctx with a run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithTaskID tags ctx with a task identifier.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// WithWave tags ctx with a wave index.
func WithWave(ctx context.Context, wave int) context.Context {
	return context.WithValue(ctx, waveKey, wave)
}

// RunID returns the run identifier carried by ctx, if any.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// ContextFields extracts the logging fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("run_id", v))
	}
	if v, ok := ctx.Value(waveKey).(int); ok {
		fields = append(fields, zap.Int("wave", v))
	}
	if v, ok := ctx.Value(taskIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("task_id", v))
	}
	return fields
}

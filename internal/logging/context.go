package logging

import (
	"context"

	"go.uber.org/zap"
)

// Context key types
type taskCtxKey struct{}
type squadCtxKey struct{}
type attemptCtxKey struct{}

// WithTask returns a context carrying the task ID for log correlation.
func WithTask(ctx context.Context, taskID string) context.Context {
	if taskID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskCtxKey{}, taskID)
}

// WithSquad returns a context carrying the squad name.
func WithSquad(ctx context.Context, squad string) context.Context {
	if squad == "" {
		return ctx
	}
	return context.WithValue(ctx, squadCtxKey{}, squad)
}

// WithAttempt returns a context carrying the lineage attempt counter.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptCtxKey{}, attempt)
}

// TaskIDFromContext extracts the task ID, or "" if absent.
func TaskIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(taskCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// SquadFromContext extracts the squad name, or "" if absent.
func SquadFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(squadCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// AttemptFromContext extracts the attempt counter, or -1 if absent.
func AttemptFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(attemptCtxKey{}).(int); ok {
		return v
	}
	return -1
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)

	if taskID := TaskIDFromContext(ctx); taskID != "" {
		fields = append(fields, zap.String("task.id", taskID))
	}
	if squad := SquadFromContext(ctx); squad != "" {
		fields = append(fields, zap.String("squad", squad))
	}
	if attempt := AttemptFromContext(ctx); attempt >= 0 {
		fields = append(fields, zap.Int("attempt", attempt))
	}

	return fields
}

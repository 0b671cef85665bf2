package util

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// GetRequestID returns the request id of ctx or "-" if none was set.
func GetRequestID(ctx context.Context) string {
	if id, ok := RequestID(ctx); ok {
		return id
	}
	return "-"
}

func NewRequestID() string {
	return uuid.NewString()
}

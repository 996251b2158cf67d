package core

import (
	"context"

	"github.com/google/uuid"
)

type connIDKey struct{}

// WithConnID adds a connection ID to the context
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// GetConnID retrieves the connection ID from context
func GetConnID(ctx context.Context) string {
	if id, ok := ctx.Value(connIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewConnID generates a new connection ID
func NewConnID() string {
	return uuid.New().String()
}

// WithNewConnID adds a fresh connection ID to the context
func WithNewConnID(ctx context.Context) context.Context {
	return WithConnID(ctx, NewConnID())
}

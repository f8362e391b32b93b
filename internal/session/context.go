package session

import (
	"context"
	"errors"
)

// ErrNoManager is the panic value of FromContext when no Manager was
// attached to the context.
var ErrNoManager = errors.New("session: no Manager in context, the handler is not wrapped by the session middleware")

type contextKey struct{}

// NewContext returns a copy of ctx carrying m.
func NewContext(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// FromContext returns the Manager attached by NewContext. It panics with
// ErrNoManager when there is none.
func FromContext(ctx context.Context) *Manager {
	m, ok := ctx.Value(contextKey{}).(*Manager)
	if !ok || m == nil {
		panic(ErrNoManager)
	}
	return m
}

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// WithHandle returns a copy of parent whose logger is the logger from
// from, tagged with a connection handle. The two contexts are separate so a
// long-lived connection can outlive the request it was upgraded from.
func WithHandle(parent, from context.Context, handle string) context.Context {
	l := Ctx(from)
	return WithLogger(parent, l.With().Str(FieldHandle, handle).Logger())
}

// Ctx retrieves the logger from the context.
// If no logger is found, the global logger is returned.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

package middleware

import (
	"context"

	"github.com/angelmondragon/packfinderz-stock/internal/movements"
)

type contextKey string

const ctxActor contextKey = "actor"

// ActorFromContext returns the caller recorded by the Actor middleware. A
// missing actor normalizes to the calling service.
func ActorFromContext(ctx context.Context) movements.Actor {
	if ctx == nil {
		return movements.Actor{}.Normalize()
	}
	if v, ok := ctx.Value(ctxActor).(movements.Actor); ok {
		return v
	}
	return movements.Actor{}.Normalize()
}

// WithActor injects the caller into the context for downstream handlers.
func WithActor(ctx context.Context, actor movements.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

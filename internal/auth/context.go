package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const actorKey contextKey = "actor"

// ActorHeader carries the name of the operator issuing a request.
const ActorHeader = "X-Actor"

const maxActorLength = 128

// ContextWithActor returns a new context that carries the acting user or system.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting user or system from the context, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	actor, ok := ctx.Value(actorKey).(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}

// ResolveActor picks the explicit actor when given, then the context actor, then fallback.
func ResolveActor(ctx context.Context, explicit *string, fallback string) string {
	if explicit != nil {
		if actor := strings.TrimSpace(*explicit); actor != "" {
			return truncate(actor)
		}
	}
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	return fallback
}

// ActorMiddleware copies the actor header into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(ContextWithActor(r.Context(), truncate(actor)))
		}
		next.ServeHTTP(w, r)
	})
}

func truncate(actor string) string {
	if len(actor) > maxActorLength {
		return actor[:maxActorLength]
	}
	return actor
}

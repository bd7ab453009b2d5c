package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/bulkorders/internal/orderloader"
	"github.com/rpattn/bulkorders/internal/repository"
)

type ctxKey string

const orderLoaderKey ctxKey = "orderLoader"

// DataLoaderMiddleware attaches a request scoped order loader to the context.
func DataLoaderMiddleware(repo repository.OrderRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := orderloader.NewOrderLoader(repo)
			ctx := context.WithValue(r.Context(), orderLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OrderLoaderFromContext retrieves the order loader from context
func OrderLoaderFromContext(ctx context.Context) *orderloader.OrderLoader {
	if l, ok := ctx.Value(orderLoaderKey).(*orderloader.OrderLoader); ok {
		return l
	}
	return nil
}

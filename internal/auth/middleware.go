package auth

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey struct{}

// WithClaims stores verified claims on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// ClaimsFrom returns the claims stored by the middleware, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok
}

// Middleware rejects requests without a valid bearer token. onReject writes
// the error response so callers control the envelope.
func Middleware(tm *TokenManager, logger *slog.Logger, onReject func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := tm.Parse(r.Header.Get("Authorization"))
			if err != nil {
				logger.Debug("request rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"error", err,
				)
				onReject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

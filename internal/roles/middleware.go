package roles

import (
	"context"
	"net/http"

	"pentestdesk/internal/auth"
)

type ctxKey struct{}

func WithState(ctx context.Context, s State) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the zero State when no role was resolved.
func FromContext(ctx context.Context) State {
	s, _ := ctx.Value(ctxKey{}).(State)
	return s
}

// Middleware resolves the role of the authenticated caller, if any.
func Middleware(r *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id, ok := auth.IdentityFrom(req.Context())
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			next.ServeHTTP(w, req.WithContext(WithState(req.Context(), r.Resolve(req.Context(), id.UserID))))
		})
	}
}

package httpapi

import (
	"net/http"

	"eduportal.org/internal/auth"
)

// RequireAuth runs the guard on every request and attaches the identity and
// raw token to the request context.
func RequireAuth(g *auth.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			id, err := g.Authenticate(r.Context(), header)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			ctx := auth.ContextWithIdentity(r.Context(), id)
			if token, ok := auth.BearerToken(header); ok {
				ctx = auth.ContextWithToken(ctx, token)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits callers whose role is one of roles. Must run after
// RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return requireIdentity(func(id auth.Identity) bool {
		return auth.HasRole(id, roles...)
	})
}

// RequirePermission admits callers holding all (MatchAll) or any (MatchAny)
// of keys. Must run after RequireAuth.
func RequirePermission(mode auth.MatchMode, keys ...string) func(http.Handler) http.Handler {
	return requireIdentity(func(id auth.Identity) bool {
		return auth.HasPermission(id, mode, keys...)
	})
}

func requireIdentity(allowed func(auth.Identity) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, r, &auth.Error{Kind: auth.KindNoToken})
				return
			}
			if !allowed(id) {
				writeAuthError(w, r, &auth.Error{Kind: auth.KindForbidden})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

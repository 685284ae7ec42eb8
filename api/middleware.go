package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/pingme/pingme/auth"
	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/types"
)

type contextKey struct{ name string }

var userContextKey = contextKey{"user"}

// requestUser returns the authenticated user of a request, or nil.
func requestUser(r *http.Request) *types.User {
	user, _ := r.Context().Value(userContextKey).(*types.User)
	return user
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// authMiddleware resolves the request's bearer token through the gateway and
// rejects requests without a resolvable identity. The user travels in the
// request context from here on; there is no ambient current-user state.
func authMiddleware(gateway *auth.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "not logged in")
				return
			}
			user, err := gateway.ResolveIdentity(r.Context(), auth.Credentials{Token: token})
			if err != nil {
				globals.AppLogger.Error("could not resolve identity", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if user == nil {
				writeError(w, http.StatusUnauthorized, "not logged in")
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

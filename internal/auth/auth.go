// Package auth implements the two-tier bearer-token scheme spec §6
// describes: a single service-wide Admin token authorizes config and
// token-management calls, while each key has its own Key token (managed by
// pkg/token) authorizing ID-generation calls against that key specifically.
// Grounded on the teacher's auth.Middleware/Identity/context pattern,
// collapsed from its multi-method RBAC resolution down to these two scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/idbuilder/worker/internal/httpserver"
)

type contextKey string

const identityKey contextKey = "auth_identity"

// Identity is what Middleware resolves from the Authorization header and
// stores in the request context.
type Identity struct {
	RawToken string
	IsAdmin  bool
}

// NewContext stores id in ctx.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext retrieves the Identity stored by Middleware, or nil if absent.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// Middleware extracts the bearer token (if any) and determines whether it
// matches the service-wide admin token, storing the result as an Identity in
// the request context. It never rejects a request itself — RequireAdmin and
// CheckKey do that, so unauthenticated health/metrics routes can
// sit behind the same middleware chain without special-casing.
func Middleware(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := &Identity{}

			if header := r.Header.Get("Authorization"); header != "" {
				const prefix = "Bearer "
				if strings.HasPrefix(header, prefix) {
					id.RawToken = strings.TrimSpace(strings.TrimPrefix(header, prefix))
				}
			}

			if id.RawToken != "" && adminToken != "" {
				id.IsAdmin = subtle.ConstantTimeCompare([]byte(id.RawToken), []byte(adminToken)) == 1
			}

			ctx := NewContext(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects any request whose resolved Identity is not the admin
// scope (2001 if no token was presented at all, 2002 otherwise).
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id == nil || id.RawToken == "" {
			httpserver.RespondError(w, httpserver.CodeUnauthenticated, "missing bearer token")
			return
		}
		if !id.IsAdmin {
			httpserver.RespondError(w, httpserver.CodeUnauthorized, "admin scope required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyVerifier checks a bearer token against the token stored for a
// particular key. pkg/token.Service satisfies this.
type KeyVerifier interface {
	Verify(ctx context.Context, key, token string) (bool, error)
}

// CheckKey verifies the request's bearer token against key via verifier,
// writing the appropriate error envelope and returning false on failure.
// Used inline by key-scoped handlers (/v1/id/*) since the key being
// authorized against is a query parameter, not something Middleware alone
// can resolve.
func CheckKey(w http.ResponseWriter, r *http.Request, verifier KeyVerifier, key string) bool {
	id := FromContext(r.Context())
	if id == nil || id.RawToken == "" {
		httpserver.RespondError(w, httpserver.CodeUnauthenticated, "missing bearer token")
		return false
	}
	if id.IsAdmin {
		// The admin token is always accepted for key-scoped calls too.
		return true
	}

	ok, err := verifier.Verify(r.Context(), key, id.RawToken)
	if err != nil {
		httpserver.RespondError(w, httpserver.CodeInternal, err.Error())
		return false
	}
	if !ok {
		httpserver.RespondError(w, httpserver.CodeUnauthenticated, "invalid key token")
		return false
	}
	return true
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/freshkv/freshkv/internal/auth"
	"github.com/freshkv/freshkv/pkg/errutil"
)

// sessionPattern matches the session token in a Cookie header value. The
// token runs to the next ';' or the end of the header.
var sessionPattern = regexp.MustCompile(`session=([^;]+)`)

// ExtractSessionToken returns the session token from a Cookie header
// value, or "" when there is none.
func ExtractSessionToken(cookieHeader string) string {
	m := sessionPattern.FindStringSubmatch(cookieHeader)
	if m == nil {
		return ""
	}
	return m[1]
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	User    auth.Profile
	Session *auth.Session
}

type identityKey struct{}

// WithIdentity returns a context carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity attached by the Gate, or nil for an
// anonymous request.
func IdentityFrom(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityKey{}).(*Identity) //nolint:errcheck // absent means anonymous
	return identity
}

// SessionResolver looks up a session by token.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (*auth.Session, error)
}

// Gate resolves the session cookie of every request. A request without a
// token, or whose token does not resolve, continues anonymously. Store
// failures are logged and also treated as anonymous.
func Gate(sessions SessionResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractSessionToken(r.Header.Get("Cookie"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := sessions.Resolve(r.Context(), token)
			if err != nil {
				if !errors.Is(err, auth.ErrSessionNotFound) {
					errutil.LogError(logger, "session lookup failed", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			identity := &Identity{User: session.Profile(), Session: session}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAuth writes the standard denial when identity is nil and reports
// whether the request may proceed. API callers get 401 with a JSON body;
// page loads are redirected to /login.
func RequireAuth(w http.ResponseWriter, r *http.Request, identity *Identity, isAPI bool) bool {
	if identity != nil {
		return true
	}
	if isAPI {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Authentication required"})
		return false
	}
	http.Redirect(w, r, "/login", http.StatusFound)
	return false
}

// requireAPIAuth is RequireAuth as middleware for API routes.
func requireAPIAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequireAuth(w, r, IdentityFrom(r.Context()), true) {
			next.ServeHTTP(w, r)
		}
	})
}

// requirePageAuth is RequireAuth as middleware for page routes.
func requirePageAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequireAuth(w, r, IdentityFrom(r.Context()), false) {
			next.ServeHTTP(w, r)
		}
	})
}

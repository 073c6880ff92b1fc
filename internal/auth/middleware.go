package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/scene-capture/internal/model"
)

// CookieName is the cookie that carries the session token.
const CookieName = "token"

// HeaderName is the legacy custom header some clients send the token in.
const HeaderName = "x-auth-token"

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. If you use a plain string like
// context.WithValue(ctx, "userID", id), ANY package that knows the string "userID"
// can read or shadow your value. Using a package-private type prevents collisions:
// only THIS package can create a key of type contextKey, so only this package
// can read or write userID values in the context.
type contextKey string

const userIDKey contextKey = "userID"

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the token (see TokenFromRequest), validates it, and stores the
// userID in the request context. If the token is missing or invalid, it
// answers 401 with the API's JSON error shape and stops the chain.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware is a function that takes an http.Handler and returns a new
// http.Handler. The new handler "wraps" the original:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... do stuff before the handler ...
//	        next.ServeHTTP(w, r)
//	        // ... do stuff after the handler ...
//	    })
//	}
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := authenticate(r, tokens)
			if !ok {
				writeUnauthenticated(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// OptionalAuth extracts the user identity if a valid token is present, but
// does NOT block the request if it's missing or invalid.
//
// Scene reads and the list go through this: anonymous callers still see
// public scenes, signed-in callers also see their own private ones.
//
// A bad token is treated exactly like no token. Handlers check for the user
// via UserIDFromContext: if it returns ("", false), the request is anonymous.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, ok := authenticate(r, tokens); ok {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID returns a context carrying the authenticated user's ID.
// Exported so handler tests can fake an authenticated request.
func WithUserID(ctx context.Context, id model.UserID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext retrieves the authenticated user's ID from the request context.
//
// Returns ("", false) if the request is anonymous (no valid token was present).
// Returns (id, true) if the user is authenticated.
//
// Usage in handlers:
//
//	userID, ok := auth.UserIDFromContext(r.Context())
//	if !ok {
//	    // anonymous user
//	}
func UserIDFromContext(ctx context.Context) (model.UserID, bool) {
	id, ok := ctx.Value(userIDKey).(model.UserID)
	return id, ok && id != ""
}

// TokenFromRequest finds the session token on a request. Sources, in order:
//
//  1. the "token" cookie (browsers; set on login)
//  2. Authorization: Bearer <jwt>
//  3. x-auth-token: <jwt>
//
// The first non-empty source wins; later ones are not consulted even if the
// first turns out to be invalid. Returns "" when none is present.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		// The scheme is case-insensitive per RFC 7235.
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			if tok = strings.TrimSpace(tok); tok != "" {
				return tok
			}
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderName))
}

// authenticate is shared by RequireAuth and OptionalAuth.
func authenticate(r *http.Request, tokens *TokenService) (model.UserID, bool) {
	tok := TokenFromRequest(r)
	if tok == "" {
		return "", false
	}
	userID, err := tokens.Validate(tok)
	if err != nil {
		return "", false
	}
	return userID, true
}

// writeUnauthenticated answers with the same JSON body the handler package
// uses for its errors. auth cannot import handler (handler imports auth), so
// the shape is repeated here.
func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthenticated",
		"message": "valid authentication required",
	})
	if err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

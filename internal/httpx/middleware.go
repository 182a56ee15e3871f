// Package httpx exposes the services over HTTP with chi: bearer-token
// authentication, permission checks and the JSON API.
package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/dmitrijs2005/medkeeper/internal/common"
)

// SessionHeader carries the session id handed out at login. It only tags
// audit events; authentication relies on the bearer token alone.
const SessionHeader = "X-Session-ID"

type ctxKey string

const claimsKey ctxKey = "claims"

// ClaimsFromContext returns the verified access claims put there by
// Authenticate, or nil.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

func withClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// TokenVerifier is satisfied by *auth.Authority.
type TokenVerifier interface {
	VerifyToken(token string) *auth.Claims
}

// Authorizer is satisfied by *services.AuthService.
type Authorizer interface {
	Authorize(ctx context.Context, claims *auth.Claims, resource string, required ...auth.Permission) error
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate rejects requests without a valid access token with 401 and
// stores the claims in the request context otherwise.
func Authenticate(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := v.VerifyToken(bearerToken(r))
			if claims == nil {
				writeError(w, common.ErrTokenInvalid)
				return
			}
			ctx := withClaims(r.Context(), claims)
			if sid := r.Header.Get(SessionHeader); sid != "" {
				ctx = audit.WithSessionID(ctx, sid)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAny lets a request through when its claims hold at least one of
// perms. Denials are answered with 403 and audited by the Authorizer.
func RequireAny(a Authorizer, perms ...auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := a.Authorize(r.Context(), ClaimsFromContext(r.Context()), r.URL.Path, perms...)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrTokenInvalid), errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrInsufficientPermission), errors.Is(err, common.ErrUserInactive):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrIntegrityViolation):
		return http.StatusConflict
	case errors.Is(err, common.ErrRecordCorrupted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrCryptoUnavailable), errors.Is(err, common.ErrKeyFormat):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status for err. Only validation messages are
// passed through; everything else gets the bare status text.
func writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	msg := http.StatusText(code)
	if code == http.StatusBadRequest {
		msg = err.Error()
	}
	writeJSON(w, code, errorBody{Error: msg})
}

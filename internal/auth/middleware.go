package auth

import (
	"context"
	"net/http"

	"github.com/cookstagram/accounts/internal/logger"
	"github.com/cookstagram/accounts/internal/token"
	"github.com/cookstagram/accounts/pkg/model"
)

type claimsKey struct{}

// ClaimsFromContext returns the access token claims attached by
// BearerAuthenticated.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*token.Claims)
	return claims, ok
}

// userID returns the subject of the request's access token.
func userID(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return ""
}

// Middleware provides methods for creating HTTP middleware.
type Middleware struct {
	tokens *token.Issuer
}

// NewMiddleware creates middleware verifying tokens issued by tokens.
func NewMiddleware(tokens *token.Issuer) *Middleware {
	return &Middleware{tokens: tokens}
}

// BearerAuthenticated protects endpoints based off a user's Bearer access
// token.
func (m *Middleware) BearerAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := ParseBearerAuthorizationHeader(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, model.InvalidCredential("authentication credentials were not provided").WithCause(err))
			return
		}

		claims, err := m.tokens.ParseAccess(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With("user_id", claims.Subject))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SuppressReferrer keeps authorization codes and state in provider
// callback URLs from leaking through the Referer header.
//
// See Section 4.2.4: https://tools.ietf.org/html/draft-ietf-oauth-security-topics-16
func SuppressReferrer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"context"
	"net/http"
)

type ctxKey string

const usernameKey ctxKey = "username"

// CertAuth is a middleware that enforces mutual TLS authentication.
//
// It checks whether the incoming HTTP request has a valid client
// certificate. The /api/register endpoint is excluded from certificate
// validation so a freshly created identity can prove its password and
// obtain a certificate.
//
// On successful validation, it extracts the Common Name (CN) from the
// client's certificate and stores it in the request context; handlers
// resolve it to an identity and role.
func CertAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/register" {
			// Allow registration without certificate
			next.ServeHTTP(w, r)
			return
		}
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			http.Error(w, "no client certificate provided", http.StatusUnauthorized)
			return
		}
		cert := r.TLS.PeerCertificates[0]
		ctx := context.WithValue(r.Context(), usernameKey, cert.Subject.CommonName)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithUsername returns a context carrying the authenticated username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// GetUsernameFromContext extracts the authenticated username (Common
// Name from the client certificate) from the request context. Returns
// an empty string if not found.
func GetUsernameFromContext(ctx context.Context) string {
	val := ctx.Value(usernameKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

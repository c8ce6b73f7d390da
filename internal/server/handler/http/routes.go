// Package http provides HTTP routing and middleware configuration
// for the key-store service.
package http

import (
	"net/http"

	"github.com/ndanilov/piivault/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves the
// key-store API. It applies JSON content-type enforcement, request
// logging, and certificate-based authentication, and mounts the
// registration, identity, and key endpoints under /api.
//
// Routes:
//
//	POST /api/register          → authHandler.Register (no client cert)
//	GET  /api/login             → authHandler.Login
//	GET  /api/keys              → keyHandler.OwnRecord
//	GET  /api/keys/{username}   → keyHandler.RecordFor (admin)
//	POST /api/keys/setup        → keyHandler.Setup
//	POST /api/keys/bootstrap    → keyHandler.Bootstrap (admin)
//	POST /api/keys/grant        → keyHandler.Grant (admin)
//	POST /api/keys/reset        → keyHandler.Reset (admin)
//	POST /api/password          → keyHandler.ChangePassword
//	POST /api/identities        → keyHandler.CreateIdentity (admin)
//	POST /api/identities/disable → keyHandler.Disable (admin)
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json") — rejects non-JSON requests
//  2. WithRequestLogging(logger)           — logs incoming requests
//  3. CertAuth                             — enforces TLS client certificate auth
func NewRouter(
	authHandler *AuthHandler,
	keyHandler *KeyHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Only allow requests with Content-Type: application/json
	r.Use(chiMiddleware.AllowContentType("application/json", ""))

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))
	// Enforce certificate-based authentication
	r.Use(middleware.CertAuth)

	// Mount API routes
	r.Route("/api", func(r chi.Router) {
		// Public endpoint: password-authenticated certificate issue
		r.Post("/register", authHandler.Register)

		// Protected group: requires valid client certificate
		r.Group(func(r chi.Router) {
			r.Get("/login", authHandler.Login)

			r.Get("/keys", keyHandler.OwnRecord)
			r.Get("/keys/{username}", keyHandler.RecordFor)
			r.Post("/keys/setup", keyHandler.Setup)
			r.Post("/keys/bootstrap", keyHandler.Bootstrap)
			r.Post("/keys/grant", keyHandler.Grant)
			r.Post("/keys/reset", keyHandler.Reset)
			r.Post("/password", keyHandler.ChangePassword)

			r.Post("/identities", keyHandler.CreateIdentity)
			r.Post("/identities/disable", keyHandler.Disable)
		})
	})

	return r
}

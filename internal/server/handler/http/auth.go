// Package http provides HTTP handlers for identity authentication
// and key-record management.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ndanilov/piivault/internal/certgen"
	"github.com/ndanilov/piivault/internal/models"
)

// IdentityService defines the identity operations required by the
// HTTP handlers.
type IdentityService interface {
	// Authenticate verifies a username/password pair against the
	// stored verifier.
	Authenticate(ctx context.Context, username, password string) (*models.Identity, error)
	// Resolve fetches the active identity for an authenticated username.
	Resolve(ctx context.Context, username string) (*models.Identity, error)
	// Create registers a new identity with the given role.
	Create(ctx context.Context, actor *models.Identity, username, password string, role models.Role) (*models.Identity, error)
}

// AuthHandler handles device registration and certificate-based login.
type AuthHandler struct {
	// IdentityService performs the underlying identity operations.
	IdentityService IdentityService
	// CACertPath and CAKeyPath locate the CA credentials used to sign
	// issued agent certificates.
	CACertPath string
	CAKeyPath  string
}

// RegisterRequest represents the JSON payload for device registration.
type RegisterRequest struct {
	// Username is the identity registering this device.
	Username string `json:"username"`
	// Password proves the caller knows the identity's password.
	Password string `json:"password"`
}

// Register handles device registration requests.
// It expects a JSON body with non-empty "username" and "password"
// fields. The password is checked against the identity's verifier;
// on success a client certificate bound to the username is issued and
// returned PEM-encoded together with its private key. The endpoint is
// reachable without a client certificate so a fresh device can enroll.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if _, err := h.IdentityService.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, models.ErrBadCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Load CA credentials for signing
	caCert, caKey, err := certgen.LoadCACredentials(h.CACertPath, h.CAKeyPath)
	if err != nil {
		http.Error(w, "failed to load CA", http.StatusInternalServerError)
		return
	}

	// Issue an agent certificate bound to the username
	certPEM, keyPEM, err := certgen.GenerateAgentCertificate(req.Username, caCert, caKey)
	if err != nil {
		http.Error(w, "failed to generate certificate", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"cert": string(certPEM),
		"key":  string(keyPEM),
	})
}

// Login handles certificate-based login requests.
// It expects the client to present a valid TLS certificate; the
// CommonName is resolved to an identity, whose id, role, and active
// flag are returned.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		http.Error(w, "client certificate required", http.StatusUnauthorized)
		return
	}

	cert := r.TLS.PeerCertificates[0]
	username := cert.Subject.CommonName

	id, err := h.IdentityService.Resolve(r.Context(), username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "identity not found", http.StatusForbidden)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(id)
}

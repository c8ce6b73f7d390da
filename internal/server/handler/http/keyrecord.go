package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ndanilov/piivault/internal/middleware"
	"github.com/ndanilov/piivault/internal/models"
)

// KeyStoreService defines the key-store operations required by the
// KeyHandler. Every payload that crosses this interface is ciphertext.
type KeyStoreService interface {
	// Record fetches the caller's own key record.
	Record(ctx context.Context, identityID string) (*models.KeyRecord, error)
	// RecordFor fetches another identity's key record (admin only).
	RecordFor(ctx context.Context, actor *models.Identity, targetUsername string) (*models.KeyRecord, *models.Identity, error)
	// Setup stores first-time setup material; existing reports an
	// idempotent repeat.
	Setup(ctx context.Context, actor *models.Identity, publicWrapKey, encryptedPrivateKey []byte) (rec *models.KeyRecord, existing bool, err error)
	// Bootstrap stores the first admin's complete key record.
	Bootstrap(ctx context.Context, actor *models.Identity, publicWrapKey, encryptedPrivateKey, wrappedDataKey []byte) error
	// Grant persists a wrapped data-key copy for the target.
	Grant(ctx context.Context, actor *models.Identity, targetUsername string, wrappedDataKey []byte) error
	// Reset clears the target's key record.
	Reset(ctx context.Context, actor *models.Identity, targetUsername string) error
	// ChangePassword swaps verifier and private-key blob atomically.
	ChangePassword(ctx context.Context, actor *models.Identity, currentPassword, newPassword string, newEncryptedPrivateKey []byte) error
	// Disable revokes an identity and clears its wrapped copy.
	Disable(ctx context.Context, actor *models.Identity, targetUsername string) error
}

// KeyHandler handles HTTP requests for key records and the
// onboarding/grant protocol.
type KeyHandler struct {
	Keys       KeyStoreService
	Identities IdentityService
}

// actor resolves the authenticated caller from the request context.
func (h *KeyHandler) actor(r *http.Request) (*models.Identity, error) {
	username := middleware.GetUsernameFromContext(r.Context())
	if username == "" {
		return nil, models.ErrUnauthorized
	}
	return h.Identities.Resolve(r.Context(), username)
}

// writeError maps protocol errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrBadCredentials):
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	case errors.Is(err, models.ErrUnauthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, models.ErrDataKeyExists):
		http.Error(w, "data key already exists", http.StatusConflict)
	case errors.Is(err, models.ErrSetupConflict):
		http.Error(w, "setup already completed", http.StatusConflict)
	case errors.Is(err, models.ErrNoDataKey):
		http.Error(w, "no data key granted", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// OwnRecord handles GET /api/keys: the caller's own key record.
func (h *KeyHandler) OwnRecord(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.Keys.Record(r.Context(), actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

// RecordForResponse carries a target's key record and identity.
type RecordForResponse struct {
	Record   *models.KeyRecord `json:"record"`
	Identity *models.Identity  `json:"identity"`
}

// RecordFor handles GET /api/keys/{username}: another identity's key
// record, for the read half of a grant. Admin only.
func (h *KeyHandler) RecordFor(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, target, err := h.Keys.RecordFor(r.Context(), actor, chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, RecordForResponse{Record: rec, Identity: target})
}

// SetupRequest carries first-time setup material.
type SetupRequest struct {
	PublicWrapKey       []byte `json:"public_wrap_key"`
	EncryptedPrivateKey []byte `json:"encrypted_private_key"`
}

// SetupResponse returns the stored record; Existing is true when the
// store already held a private-key blob and returned it unchanged.
type SetupResponse struct {
	Record   *models.KeyRecord `json:"record"`
	Existing bool              `json:"existing"`
}

// Setup handles POST /api/keys/setup.
func (h *KeyHandler) Setup(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rec, existing, err := h.Keys.Setup(r.Context(), actor, req.PublicWrapKey, req.EncryptedPrivateKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, SetupResponse{Record: rec, Existing: existing})
}

// BootstrapRequest carries the first admin's complete key material.
type BootstrapRequest struct {
	PublicWrapKey       []byte `json:"public_wrap_key"`
	EncryptedPrivateKey []byte `json:"encrypted_private_key"`
	WrappedDataKey      []byte `json:"wrapped_data_key"`
}

// Bootstrap handles POST /api/keys/bootstrap.
func (h *KeyHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req BootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.Keys.Bootstrap(r.Context(), actor, req.PublicWrapKey, req.EncryptedPrivateKey, req.WrappedDataKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// GrantRequest carries a wrapped data-key copy for a target identity.
type GrantRequest struct {
	Username       string `json:"username"`
	WrappedDataKey []byte `json:"wrapped_data_key"`
}

// Grant handles POST /api/keys/grant.
func (h *KeyHandler) Grant(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.Keys.Grant(r.Context(), actor, req.Username, req.WrappedDataKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// TargetRequest names the identity an admin operation acts on.
type TargetRequest struct {
	Username string `json:"username"`
}

// Reset handles POST /api/keys/reset.
func (h *KeyHandler) Reset(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.Keys.Reset(r.Context(), actor, req.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// ChangePasswordRequest proves the current password and supplies the
// blob re-encrypted under the new password's KEK.
type ChangePasswordRequest struct {
	CurrentPassword     string `json:"current_password"`
	NewPassword         string `json:"new_password"`
	EncryptedPrivateKey []byte `json:"encrypted_private_key"`
}

// ChangePassword handles POST /api/password.
func (h *KeyHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.Keys.ChangePassword(r.Context(), actor, req.CurrentPassword, req.NewPassword, req.EncryptedPrivateKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// CreateIdentityRequest carries a new identity's username, initial
// password, and role.
type CreateIdentityRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

// CreateIdentity handles POST /api/identities. Admin only.
func (h *KeyHandler) CreateIdentity(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req CreateIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	id, err := h.Identities.Create(r.Context(), actor, req.Username, req.Password, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, id)
}

// Disable handles POST /api/identities/disable. Admin only.
func (h *KeyHandler) Disable(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.Keys.Disable(r.Context(), actor, req.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

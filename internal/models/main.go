// Package models defines the core data structures for identities,
// key records, and audit events.
package models

import "time"

// Role determines what an identity may do: create identities,
// grant or revoke key access, or write records.
type Role string

const (
	// RoleAdmin may create identities and grant/revoke key access.
	RoleAdmin Role = "admin"
	// RoleUser may read and write protected records.
	RoleUser Role = "user"
	// RoleViewer may only read protected records.
	RoleViewer Role = "viewer"
)

// Valid reports whether r is one of the seeded roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleViewer:
		return true
	}
	return false
}

// ManagesAccess reports whether the role carries the capability
// to grant and reset key access for other identities.
func (r Role) ManagesAccess() bool {
	return r == RoleAdmin
}

// Identity represents an enrolled identity. The password verifier is
// kept by the identity repository and never travels with this struct.
type Identity struct {
	// ID is the immutable unique identifier for the identity.
	ID string `json:"id"`
	// Username is the unique login name.
	Username string `json:"username"`
	// Role is the identity's seeded role.
	Role Role `json:"role"`
	// Active is false once the identity has been disabled.
	Active bool `json:"active"`
}

// KeyRecord is the per-identity key row held by the store. All three
// key fields are opaque byte strings to every component except the
// client agent that produced or consumes them; the store never
// decrypts anything.
type KeyRecord struct {
	// IdentityID references the owning identity.
	IdentityID string `json:"identity_id"`
	// PublicWrapKey is the PEM-encoded public half of the identity's
	// wrap pair. Present once local key generation has completed.
	PublicWrapKey []byte `json:"public_wrap_key,omitempty"`
	// EncryptedPrivateKey is the identity's private key encrypted
	// under a password-derived KEK, nonce prefixed. Absent until
	// first-time setup.
	EncryptedPrivateKey []byte `json:"encrypted_private_key,omitempty"`
	// WrappedDataKey is the shared data key wrapped under this
	// identity's public key. Absent until an admin grants access.
	WrappedDataKey []byte `json:"wrapped_data_key,omitempty"`
}

// HasPrivateKey reports whether first-time setup has completed.
func (r *KeyRecord) HasPrivateKey() bool {
	return r != nil && len(r.EncryptedPrivateKey) > 0
}

// HasDataKey reports whether a wrapped data key copy has been granted.
func (r *KeyRecord) HasDataKey() bool {
	return r != nil && len(r.WrappedDataKey) > 0
}

// AuditAction identifies an auditable key-management operation.
type AuditAction string

const (
	AuditSetup          AuditAction = "setup"
	AuditBootstrap      AuditAction = "bootstrap"
	AuditGrant          AuditAction = "grant"
	AuditReset          AuditAction = "reset"
	AuditPasswordChange AuditAction = "password_change"
	AuditCreateIdentity AuditAction = "create_identity"
	AuditDisable        AuditAction = "disable"
)

// AuditEvent records one key-management operation for the audit trail.
type AuditEvent struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`
	// Action names the operation performed.
	Action AuditAction `json:"action"`
	// ActorID is the identity that performed the operation.
	ActorID string `json:"actor_id"`
	// TargetID is the identity the operation acted on, if any.
	TargetID string `json:"target_id,omitempty"`
	// Success records whether the operation succeeded.
	Success bool `json:"success"`
	// At is the time the event was recorded.
	At time.Time `json:"at"`
}

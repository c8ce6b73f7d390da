package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/ndanilov/piivault/internal/models"
)

// KeyRecordRepository defines the persistence operations required by
// the key-store service.
type KeyRecordRepository interface {
	// Get fetches the key record for an identity.
	Get(ctx context.Context, identityID string) (*models.KeyRecord, error)
	// SubmitSetup stores first-time setup material atomically, returning
	// the existing record with models.ErrSetupConflict when a private-key
	// blob is already present.
	SubmitSetup(ctx context.Context, rec *models.KeyRecord) (*models.KeyRecord, error)
	// SaveWrappedDataKey persists a wrapped data-key copy.
	SaveWrappedDataKey(ctx context.Context, identityID string, wrapped []byte) error
	// ClearWrappedDataKey removes an identity's wrapped data-key copy.
	ClearWrappedDataKey(ctx context.Context, identityID string) error
	// Reset clears all key columns for an identity.
	Reset(ctx context.Context, identityID string) error
	// SwapPrivateKeyBlob atomically replaces verifier and private-key blob.
	SwapPrivateKeyBlob(ctx context.Context, identityID string, newVerifier, newBlob []byte) error
	// SubmitBootstrap stores the first complete key record, failing
	// with models.ErrDataKeyExists once any wrapped copy exists. The
	// check and the write are a single serialized unit.
	SubmitBootstrap(ctx context.Context, rec *models.KeyRecord) error
}

// KeyStoreService implements the server half of the onboarding and
// access-grant protocol. It only ever relays ciphertext: every
// cryptographic decision happens in a client agent, the service
// enforces role preconditions and write atomicity.
type KeyStoreService struct {
	keys       KeyRecordRepository
	identities IdentityRepository
	auditor    *Auditor
}

// NewKeyStoreService constructs a KeyStoreService.
func NewKeyStoreService(keys KeyRecordRepository, identities IdentityRepository, auditor *Auditor) *KeyStoreService {
	return &KeyStoreService{keys: keys, identities: identities, auditor: auditor}
}

// Record fetches the caller's own key record.
func (s *KeyStoreService) Record(ctx context.Context, identityID string) (*models.KeyRecord, error) {
	return s.keys.Get(ctx, identityID)
}

// RecordFor fetches another identity's key record together with that
// identity. Restricted to actors whose role manages access; it is the
// read half of a grant.
func (s *KeyStoreService) RecordFor(ctx context.Context, actor *models.Identity, targetUsername string) (*models.KeyRecord, *models.Identity, error) {
	if !actor.Role.ManagesAccess() {
		return nil, nil, models.ErrUnauthorized
	}
	target, err := s.identities.GetByUsername(ctx, targetUsername)
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.keys.Get(ctx, target.ID)
	if err != nil {
		return nil, nil, err
	}
	return rec, target, nil
}

// Setup stores key material from first-time setup with no wrapped data
// key: the identity enters pending access until an admin grants.
// Repeating setup (for example on a second device) returns the
// existing blob unchanged; existing is true in that case.
func (s *KeyStoreService) Setup(ctx context.Context, actor *models.Identity, publicWrapKey, encryptedPrivateKey []byte) (rec *models.KeyRecord, existing bool, err error) {
	if len(publicWrapKey) == 0 || len(encryptedPrivateKey) == 0 {
		return nil, false, fmt.Errorf("%w: setup requires public key and encrypted private key", models.ErrInvalidInput)
	}
	rec, err = s.keys.SubmitSetup(ctx, &models.KeyRecord{
		IdentityID:          actor.ID,
		PublicWrapKey:       publicWrapKey,
		EncryptedPrivateKey: encryptedPrivateKey,
	})
	if errors.Is(err, models.ErrSetupConflict) {
		s.auditor.Emit(ctx, models.AuditSetup, actor.ID, "", true)
		return rec, true, nil
	}
	if err != nil {
		s.auditor.Emit(ctx, models.AuditSetup, actor.ID, "", false)
		return nil, false, err
	}
	s.auditor.Emit(ctx, models.AuditSetup, actor.ID, "", true)
	return rec, false, nil
}

// Bootstrap stores the first admin's complete key record, including
// the self-wrapped data key generated on the admin's device. It is
// fenced off once any wrapped data-key copy exists: the shared data
// key is generated exactly once, never regenerated. The repository
// serializes the fence check with the write, so concurrent bootstraps
// cannot both succeed.
func (s *KeyStoreService) Bootstrap(ctx context.Context, actor *models.Identity, publicWrapKey, encryptedPrivateKey, wrappedDataKey []byte) error {
	if !actor.Role.ManagesAccess() {
		s.auditor.Emit(ctx, models.AuditBootstrap, actor.ID, "", false)
		return models.ErrUnauthorized
	}
	if len(publicWrapKey) == 0 || len(encryptedPrivateKey) == 0 || len(wrappedDataKey) == 0 {
		return fmt.Errorf("%w: bootstrap requires public key, encrypted private key, and wrapped data key", models.ErrInvalidInput)
	}
	err := s.keys.SubmitBootstrap(ctx, &models.KeyRecord{
		IdentityID:          actor.ID,
		PublicWrapKey:       publicWrapKey,
		EncryptedPrivateKey: encryptedPrivateKey,
		WrappedDataKey:      wrappedDataKey,
	})
	if err != nil {
		s.auditor.Emit(ctx, models.AuditBootstrap, actor.ID, "", false)
		return err
	}
	s.auditor.Emit(ctx, models.AuditBootstrap, actor.ID, "", true)
	return nil
}

// Grant persists a wrapped data-key copy for the target identity. The
// actor must carry the manage-access role and must itself hold a
// wrapped copy: only an agent that can unwrap the data key can have
// produced a valid wrap. The target must have completed setup.
func (s *KeyStoreService) Grant(ctx context.Context, actor *models.Identity, targetUsername string, wrappedDataKey []byte) error {
	if !actor.Role.ManagesAccess() {
		s.auditor.Emit(ctx, models.AuditGrant, actor.ID, "", false)
		return models.ErrUnauthorized
	}
	if len(wrappedDataKey) == 0 {
		return fmt.Errorf("%w: grant requires a wrapped data key", models.ErrInvalidInput)
	}

	actorRec, err := s.keys.Get(ctx, actor.ID)
	if err != nil {
		return err
	}
	if !actorRec.HasDataKey() {
		s.auditor.Emit(ctx, models.AuditGrant, actor.ID, "", false)
		return models.ErrNoDataKey
	}

	target, err := s.identities.GetByUsername(ctx, targetUsername)
	if err != nil {
		return err
	}
	if !target.Active {
		s.auditor.Emit(ctx, models.AuditGrant, actor.ID, target.ID, false)
		return models.ErrNotFound
	}
	targetRec, err := s.keys.Get(ctx, target.ID)
	if err != nil {
		return err
	}
	if !targetRec.HasPrivateKey() {
		s.auditor.Emit(ctx, models.AuditGrant, actor.ID, target.ID, false)
		return fmt.Errorf("%w: target %q has not completed setup", models.ErrInvalidInput, targetUsername)
	}

	if err := s.keys.SaveWrappedDataKey(ctx, target.ID, wrappedDataKey); err != nil {
		s.auditor.Emit(ctx, models.AuditGrant, actor.ID, target.ID, false)
		return err
	}
	s.auditor.Emit(ctx, models.AuditGrant, actor.ID, target.ID, true)
	return nil
}

// Reset clears the target's key record outright, forcing the identity
// back through setup and a fresh grant. Admin-assisted recovery for a
// forgotten or desynced password.
func (s *KeyStoreService) Reset(ctx context.Context, actor *models.Identity, targetUsername string) error {
	if !actor.Role.ManagesAccess() {
		s.auditor.Emit(ctx, models.AuditReset, actor.ID, "", false)
		return models.ErrUnauthorized
	}
	target, err := s.identities.GetByUsername(ctx, targetUsername)
	if err != nil {
		return err
	}
	if err := s.keys.Reset(ctx, target.ID); err != nil {
		s.auditor.Emit(ctx, models.AuditReset, actor.ID, target.ID, false)
		return err
	}
	s.auditor.Emit(ctx, models.AuditReset, actor.ID, target.ID, true)
	return nil
}

// ChangePassword swaps the password verifier and the re-encrypted
// private-key blob atomically after proving knowledge of the current
// password. The wrapped data key is untouched.
func (s *KeyStoreService) ChangePassword(ctx context.Context, actor *models.Identity, currentPassword, newPassword string, newEncryptedPrivateKey []byte) error {
	if newPassword == "" || len(newEncryptedPrivateKey) == 0 {
		return fmt.Errorf("%w: password change requires a new password and re-encrypted key blob", models.ErrInvalidInput)
	}
	verifier, err := s.identities.GetVerifier(ctx, actor.ID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword(verifier, []byte(currentPassword)) != nil {
		s.auditor.Emit(ctx, models.AuditPasswordChange, actor.ID, "", false)
		return models.ErrBadCredentials
	}
	newVerifier, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.keys.SwapPrivateKeyBlob(ctx, actor.ID, newVerifier, newEncryptedPrivateKey); err != nil {
		s.auditor.Emit(ctx, models.AuditPasswordChange, actor.ID, "", false)
		return err
	}
	s.auditor.Emit(ctx, models.AuditPasswordChange, actor.ID, "", true)
	return nil
}

// Disable revokes an identity outright: it deactivates the identity
// and clears its wrapped data-key copy. An agent that cached the data
// key before revocation keeps the capability to decrypt previously
// seen ciphertext; that is inherent to the envelope design.
func (s *KeyStoreService) Disable(ctx context.Context, actor *models.Identity, targetUsername string) error {
	if !actor.Role.ManagesAccess() {
		s.auditor.Emit(ctx, models.AuditDisable, actor.ID, "", false)
		return models.ErrUnauthorized
	}
	target, err := s.identities.GetByUsername(ctx, targetUsername)
	if err != nil {
		return err
	}
	if err := s.identities.SetActive(ctx, target.ID, false); err != nil {
		s.auditor.Emit(ctx, models.AuditDisable, actor.ID, target.ID, false)
		return err
	}
	if err := s.keys.ClearWrappedDataKey(ctx, target.ID); err != nil {
		s.auditor.Emit(ctx, models.AuditDisable, actor.ID, target.ID, false)
		return err
	}
	s.auditor.Emit(ctx, models.AuditDisable, actor.ID, target.ID, true)
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ndanilov/piivault/internal/models"
)

// IdentityRepository defines the persistence operations required by
// the identity service.
type IdentityRepository interface {
	// Create inserts a new identity and its empty key row atomically.
	Create(ctx context.Context, id *models.Identity, verifier []byte) error
	// GetByUsername fetches an identity by its unique username.
	GetByUsername(ctx context.Context, username string) (*models.Identity, error)
	// GetByID fetches an identity by its immutable id.
	GetByID(ctx context.Context, identityID string) (*models.Identity, error)
	// GetVerifier returns the stored password verifier for an identity.
	GetVerifier(ctx context.Context, identityID string) ([]byte, error)
	// SetActive enables or disables an identity.
	SetActive(ctx context.Context, identityID string, active bool) error
}

// IdentityService implements identity administration and password
// verification. It never sees or derives a KEK; the verifier is a
// bcrypt hash entirely separate from key material.
type IdentityService struct {
	repo    IdentityRepository
	auditor *Auditor
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(repo IdentityRepository, auditor *Auditor) *IdentityService {
	return &IdentityService{repo: repo, auditor: auditor}
}

// Create registers a new identity with the given role. Only an actor
// whose role manages access may create identities.
func (s *IdentityService) Create(ctx context.Context, actor *models.Identity, username, password string, role models.Role) (*models.Identity, error) {
	if !actor.Role.ManagesAccess() {
		s.auditor.Emit(ctx, models.AuditCreateIdentity, actor.ID, "", false)
		return nil, models.ErrUnauthorized
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password required", models.ErrInvalidInput)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, role)
	}

	verifier, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id := &models.Identity{
		ID:       uuid.NewString(),
		Username: username,
		Role:     role,
		Active:   true,
	}
	if err := s.repo.Create(ctx, id, verifier); err != nil {
		s.auditor.Emit(ctx, models.AuditCreateIdentity, actor.ID, id.ID, false)
		return nil, err
	}
	s.auditor.Emit(ctx, models.AuditCreateIdentity, actor.ID, id.ID, true)
	return id, nil
}

// Authenticate verifies a username/password pair against the stored
// verifier and returns the active identity on success.
func (s *IdentityService) Authenticate(ctx context.Context, username, password string) (*models.Identity, error) {
	id, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrBadCredentials
		}
		return nil, err
	}
	if !id.Active {
		return nil, models.ErrBadCredentials
	}
	verifier, err := s.repo.GetVerifier(ctx, id.ID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(verifier, []byte(password)) != nil {
		return nil, models.ErrBadCredentials
	}
	return id, nil
}

// Resolve fetches the active identity for an authenticated username.
func (s *IdentityService) Resolve(ctx context.Context, username string) (*models.Identity, error) {
	id, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !id.Active {
		return nil, models.ErrNotFound
	}
	return id, nil
}

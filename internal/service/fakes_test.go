package service

import (
	"context"

	"github.com/ndanilov/piivault/internal/models"
)

// fakeIdentityRepo is an in-memory IdentityRepository.
type fakeIdentityRepo struct {
	byID       map[string]*models.Identity
	byUsername map[string]*models.Identity
	verifiers  map[string][]byte
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{
		byID:       map[string]*models.Identity{},
		byUsername: map[string]*models.Identity{},
		verifiers:  map[string][]byte{},
	}
}

func (f *fakeIdentityRepo) Create(_ context.Context, id *models.Identity, verifier []byte) error {
	cp := *id
	f.byID[id.ID] = &cp
	f.byUsername[id.Username] = &cp
	f.verifiers[id.ID] = verifier
	return nil
}

func (f *fakeIdentityRepo) GetByUsername(_ context.Context, username string) (*models.Identity, error) {
	id, ok := f.byUsername[username]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

func (f *fakeIdentityRepo) GetByID(_ context.Context, identityID string) (*models.Identity, error) {
	id, ok := f.byID[identityID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *id
	return &cp, nil
}

func (f *fakeIdentityRepo) GetVerifier(_ context.Context, identityID string) ([]byte, error) {
	v, ok := f.verifiers[identityID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return v, nil
}

func (f *fakeIdentityRepo) SetActive(_ context.Context, identityID string, active bool) error {
	id, ok := f.byID[identityID]
	if !ok {
		return models.ErrNotFound
	}
	id.Active = active
	return nil
}

// fakeKeyRepo is an in-memory KeyRecordRepository with the same
// idempotent-setup semantics as the Postgres implementation.
type fakeKeyRepo struct {
	records map[string]*models.KeyRecord
}

func newFakeKeyRepo() *fakeKeyRepo {
	return &fakeKeyRepo{records: map[string]*models.KeyRecord{}}
}

func (f *fakeKeyRepo) ensure(identityID string) *models.KeyRecord {
	rec, ok := f.records[identityID]
	if !ok {
		rec = &models.KeyRecord{IdentityID: identityID}
		f.records[identityID] = rec
	}
	return rec
}

func (f *fakeKeyRepo) Get(_ context.Context, identityID string) (*models.KeyRecord, error) {
	rec, ok := f.records[identityID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeKeyRepo) SubmitSetup(_ context.Context, rec *models.KeyRecord) (*models.KeyRecord, error) {
	existing, ok := f.records[rec.IdentityID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if existing.HasPrivateKey() {
		cp := *existing
		return &cp, models.ErrSetupConflict
	}
	cp := *rec
	f.records[rec.IdentityID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeKeyRepo) SaveWrappedDataKey(_ context.Context, identityID string, wrapped []byte) error {
	rec, ok := f.records[identityID]
	if !ok {
		return models.ErrNotFound
	}
	rec.WrappedDataKey = wrapped
	return nil
}

func (f *fakeKeyRepo) ClearWrappedDataKey(_ context.Context, identityID string) error {
	rec, ok := f.records[identityID]
	if !ok {
		return models.ErrNotFound
	}
	rec.WrappedDataKey = nil
	return nil
}

func (f *fakeKeyRepo) Reset(_ context.Context, identityID string) error {
	rec, ok := f.records[identityID]
	if !ok {
		return models.ErrNotFound
	}
	rec.PublicWrapKey = nil
	rec.EncryptedPrivateKey = nil
	rec.WrappedDataKey = nil
	return nil
}

func (f *fakeKeyRepo) SwapPrivateKeyBlob(_ context.Context, identityID string, _, newBlob []byte) error {
	rec, ok := f.records[identityID]
	if !ok {
		return models.ErrNotFound
	}
	rec.EncryptedPrivateKey = newBlob
	return nil
}

func (f *fakeKeyRepo) SubmitBootstrap(_ context.Context, rec *models.KeyRecord) error {
	for _, existing := range f.records {
		if existing.HasDataKey() {
			return models.ErrDataKeyExists
		}
	}
	target, ok := f.records[rec.IdentityID]
	if !ok {
		return models.ErrNotFound
	}
	target.PublicWrapKey = rec.PublicWrapKey
	target.EncryptedPrivateKey = rec.EncryptedPrivateKey
	target.WrappedDataKey = rec.WrappedDataKey
	return nil
}

// fakeAudit collects emitted audit events.
type fakeAudit struct {
	events []*models.AuditEvent
}

func (f *fakeAudit) Record(_ context.Context, ev *models.AuditEvent) error {
	f.events = append(f.events, ev)
	return nil
}

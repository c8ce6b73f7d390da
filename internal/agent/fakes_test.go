package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/ndanilov/piivault/internal/models"
)

// fakeStore holds server-side state shared by every fakeAPI session,
// mirroring the store's protocol semantics: idempotent setup, the
// bootstrap fence, and role checks on admin operations.
type fakeStore struct {
	mu         sync.Mutex
	identities map[string]*models.Identity
	passwords  map[string]string
	records    map[string]*models.KeyRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities: make(map[string]*models.Identity),
		passwords:  make(map[string]string),
		records:    make(map[string]*models.KeyRecord),
	}
}

func (s *fakeStore) addIdentity(username, password string, role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[username] = &models.Identity{
		ID:       "id-" + username,
		Username: username,
		Role:     role,
		Active:   true,
	}
	s.passwords[username] = password
	s.records[username] = &models.KeyRecord{IdentityID: "id-" + username}
}

// session returns an API bound to username, as an mTLS transport
// would be.
func (s *fakeStore) session(username string) *fakeAPI {
	return &fakeAPI{store: s, username: username}
}

func copyRecord(rec *models.KeyRecord) *models.KeyRecord {
	cp := *rec
	return &cp
}

type fakeAPI struct {
	store    *fakeStore
	username string
}

func (f *fakeAPI) actor() (*models.Identity, error) {
	id, ok := f.store.identities[f.username]
	if !ok || !id.Active {
		return nil, models.ErrNotFound
	}
	return id, nil
}

func (f *fakeAPI) Login(ctx context.Context) (*models.Identity, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.actor()
}

func (f *fakeAPI) FetchRecord(ctx context.Context) (*models.KeyRecord, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if _, err := f.actor(); err != nil {
		return nil, err
	}
	return copyRecord(f.store.records[f.username]), nil
}

func (f *fakeAPI) FetchRecordFor(ctx context.Context, username string) (*models.KeyRecord, *models.Identity, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	actor, err := f.actor()
	if err != nil {
		return nil, nil, err
	}
	if !actor.Role.ManagesAccess() {
		return nil, nil, models.ErrUnauthorized
	}
	target, ok := f.store.identities[username]
	if !ok {
		return nil, nil, models.ErrNotFound
	}
	return copyRecord(f.store.records[username]), target, nil
}

func (f *fakeAPI) SubmitSetup(ctx context.Context, publicWrapKey, encryptedPrivateKey []byte) (*models.KeyRecord, bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if _, err := f.actor(); err != nil {
		return nil, false, err
	}
	rec := f.store.records[f.username]
	if rec.HasPrivateKey() {
		return copyRecord(rec), true, nil
	}
	rec.PublicWrapKey = publicWrapKey
	rec.EncryptedPrivateKey = encryptedPrivateKey
	rec.WrappedDataKey = nil
	return copyRecord(rec), false, nil
}

func (f *fakeAPI) SubmitBootstrap(ctx context.Context, publicWrapKey, encryptedPrivateKey, wrappedDataKey []byte) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	actor, err := f.actor()
	if err != nil {
		return err
	}
	if !actor.Role.ManagesAccess() {
		return models.ErrUnauthorized
	}
	for _, rec := range f.store.records {
		if rec.HasDataKey() {
			return models.ErrDataKeyExists
		}
	}
	rec := f.store.records[f.username]
	rec.PublicWrapKey = publicWrapKey
	rec.EncryptedPrivateKey = encryptedPrivateKey
	rec.WrappedDataKey = wrappedDataKey
	return nil
}

func (f *fakeAPI) SubmitGrant(ctx context.Context, username string, wrappedDataKey []byte) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	actor, err := f.actor()
	if err != nil {
		return err
	}
	if !actor.Role.ManagesAccess() {
		return models.ErrUnauthorized
	}
	rec, ok := f.store.records[username]
	if !ok {
		return models.ErrNotFound
	}
	if !rec.HasPrivateKey() {
		return models.ErrNotFound
	}
	rec.WrappedDataKey = wrappedDataKey
	return nil
}

func (f *fakeAPI) SubmitReset(ctx context.Context, username string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	actor, err := f.actor()
	if err != nil {
		return err
	}
	if !actor.Role.ManagesAccess() {
		return models.ErrUnauthorized
	}
	rec, ok := f.store.records[username]
	if !ok {
		return models.ErrNotFound
	}
	rec.PublicWrapKey = nil
	rec.EncryptedPrivateKey = nil
	rec.WrappedDataKey = nil
	return nil
}

func (f *fakeAPI) SubmitPasswordChange(ctx context.Context, currentPassword, newPassword string, encryptedPrivateKey []byte) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if _, err := f.actor(); err != nil {
		return err
	}
	if f.store.passwords[f.username] != currentPassword {
		return models.ErrBadCredentials
	}
	f.store.passwords[f.username] = newPassword
	f.store.records[f.username].EncryptedPrivateKey = encryptedPrivateKey
	return nil
}

func (f *fakeAPI) CreateIdentity(ctx context.Context, username, password string, role models.Role) (*models.Identity, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	actor, err := f.actor()
	if err != nil {
		return nil, err
	}
	if !actor.Role.ManagesAccess() {
		return nil, models.ErrUnauthorized
	}
	if _, exists := f.store.identities[username]; exists {
		return nil, fmt.Errorf("identity exists")
	}
	id := &models.Identity{ID: "id-" + username, Username: username, Role: role, Active: true}
	f.store.identities[username] = id
	f.store.passwords[username] = password
	f.store.records[username] = &models.KeyRecord{IdentityID: id.ID}
	return id, nil
}

func (f *fakeAPI) DisableIdentity(ctx context.Context, username string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	actor, err := f.actor()
	if err != nil {
		return err
	}
	if !actor.Role.ManagesAccess() {
		return models.ErrUnauthorized
	}
	id, ok := f.store.identities[username]
	if !ok {
		return models.ErrNotFound
	}
	id.Active = false
	f.store.records[username].WrappedDataKey = nil
	return nil
}

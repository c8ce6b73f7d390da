package agent

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/ndanilov/piivault/internal/crypto"
	"github.com/ndanilov/piivault/internal/models"
)

// Agent is the client key agent. It derives the KEK from the
// password, keeps the unwrapped private key and data key in memory,
// and performs all envelope encryption locally. Nothing the agent
// sends over the API is ever plaintext key material.
type Agent struct {
	api      API
	username string
	cache    *KEKCache // nil under the session policy

	mu       sync.Mutex
	kek      []byte
	priv     *rsa.PrivateKey
	dataKey  []byte
	status   Status
	identity *models.Identity
}

// New builds an agent for username over api. When cache is non-nil a
// previously persisted KEK is restored, so the first Refresh can land
// directly in a post-unlock state.
func New(api API, username string, cache *KEKCache) *Agent {
	a := &Agent{
		api:      api,
		username: username,
		cache:    cache,
		status:   StatusNoLocalSecret,
	}
	if cache != nil {
		if kek, err := cache.Load(username); err == nil && kek != nil {
			a.kek = kek
		}
	}
	return a
}

// Status returns the last derived key status.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Identity returns the identity resolved at the last Login call, or
// nil before one.
func (a *Agent) Identity() *models.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// Login resolves and caches the identity behind the transport.
func (a *Agent) Login(ctx context.Context) (*models.Identity, error) {
	id, err := a.api.Login(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.identity = id
	a.mu.Unlock()
	return id, nil
}

// Unlock derives the KEK from password and evaluates the key status
// against the stored record. Under the persist policy the KEK is
// written through to the cache only once the stored record accepts
// it; a mistyped password must not overwrite a previously valid
// cached KEK.
func (a *Agent) Unlock(ctx context.Context, password string) (Status, error) {
	kek := crypto.DeriveKEK([]byte(password), crypto.SaltForUsername(a.username))

	a.mu.Lock()
	a.kek = kek
	a.mu.Unlock()

	status, err := a.Refresh(ctx)
	if err != nil {
		return status, err
	}
	if a.cache != nil && status != StatusSetupBroken {
		if err := a.cache.Save(a.username, kek); err != nil {
			return status, err
		}
	}
	return status, nil
}

// Refresh fetches the caller's record and re-derives the status,
// updating the held private key and data key to match. This is the
// only path by which the agent's in-memory keys change besides
// Logout.
func (a *Agent) Refresh(ctx context.Context) (Status, error) {
	rec, err := a.api.FetchRecord(ctx)
	if err != nil {
		return a.Status(), err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status, a.priv, a.dataKey = Derive(a.kek, rec)
	return a.status, nil
}

// Setup performs first-time setup: derive the KEK, generate the wrap
// pair locally, encrypt the private key under the KEK, and submit
// both halves. When the store already holds a blob the call is
// idempotent: the stored record wins and the fresh pair is discarded,
// so a second device converges on the first device's keys.
func (a *Agent) Setup(ctx context.Context, password string) (Status, error) {
	kek := crypto.DeriveKEK([]byte(password), crypto.SaltForUsername(a.username))

	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return a.Status(), err
	}
	pubPEM, err := crypto.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return a.Status(), err
	}
	blob, err := crypto.EncryptPrivateKey(priv, kek)
	if err != nil {
		return a.Status(), err
	}

	rec, _, err := a.api.SubmitSetup(ctx, pubPEM, blob)
	if err != nil {
		return a.Status(), err
	}

	a.mu.Lock()
	a.kek = kek
	a.status, a.priv, a.dataKey = Derive(a.kek, rec)
	status := a.status
	a.mu.Unlock()

	// Same cache rule as Unlock: an existing blob may have won over
	// the fresh pair, and only a KEK it accepts is worth persisting.
	if a.cache != nil && status != StatusSetupBroken {
		if err := a.cache.Save(a.username, kek); err != nil {
			return status, err
		}
	}
	return status, nil
}

// Bootstrap provisions the very first admin: setup material plus a
// freshly generated data key wrapped to the admin's own public key,
// submitted as one record. The store rejects this once any data key
// exists, so it cannot clobber a live deployment.
func (a *Agent) Bootstrap(ctx context.Context, password string) (Status, error) {
	kek := crypto.DeriveKEK([]byte(password), crypto.SaltForUsername(a.username))

	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return a.Status(), err
	}
	pubPEM, err := crypto.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return a.Status(), err
	}
	blob, err := crypto.EncryptPrivateKey(priv, kek)
	if err != nil {
		return a.Status(), err
	}
	dataKey, err := crypto.NewDataKey()
	if err != nil {
		return a.Status(), err
	}
	wrapped, err := crypto.WrapKey(dataKey, &priv.PublicKey)
	if err != nil {
		return a.Status(), err
	}

	if err := a.api.SubmitBootstrap(ctx, pubPEM, blob, wrapped); err != nil {
		return a.Status(), err
	}

	a.mu.Lock()
	a.kek = kek
	a.priv = priv
	a.dataKey = dataKey
	a.status = StatusReady
	status := a.status
	a.mu.Unlock()

	if a.cache != nil {
		if err := a.cache.Save(a.username, kek); err != nil {
			return status, err
		}
	}
	return status, nil
}

// Grant wraps this agent's data key to the target's public wrap key
// and submits the copy. The data key itself never leaves this
// process; only the RSA-wrapped blob crosses the wire.
func (a *Agent) Grant(ctx context.Context, targetUsername string) error {
	a.mu.Lock()
	dataKey := a.dataKey
	a.mu.Unlock()
	if dataKey == nil {
		return fmt.Errorf("%w: unlock with key access before granting", models.ErrNoDataKey)
	}

	rec, _, err := a.api.FetchRecordFor(ctx, targetUsername)
	if err != nil {
		return err
	}
	if len(rec.PublicWrapKey) == 0 {
		return fmt.Errorf("%w: target has not completed setup", models.ErrNotFound)
	}
	pub, err := crypto.ParsePublicKey(rec.PublicWrapKey)
	if err != nil {
		return err
	}
	wrapped, err := crypto.WrapKey(dataKey, pub)
	if err != nil {
		return err
	}
	return a.api.SubmitGrant(ctx, targetUsername, wrapped)
}

// Encrypt seals plaintext under the shared data key.
func (a *Agent) Encrypt(plaintext []byte) ([]byte, error) {
	a.mu.Lock()
	dataKey := a.dataKey
	status := a.status
	a.mu.Unlock()
	if dataKey == nil {
		return nil, statusError(status)
	}
	return crypto.EncryptSymmetric(plaintext, dataKey)
}

// Decrypt opens a blob sealed under the shared data key.
func (a *Agent) Decrypt(blob []byte) ([]byte, error) {
	a.mu.Lock()
	dataKey := a.dataKey
	status := a.status
	a.mu.Unlock()
	if dataKey == nil {
		return nil, statusError(status)
	}
	return crypto.DecryptSymmetric(blob, dataKey)
}

// DecryptBatch opens many independently sealed fields. A field that
// fails to decrypt reports its own error without aborting the rest,
// so one corrupt value cannot hide the remaining data.
func (a *Agent) DecryptBatch(fields map[string][]byte) (map[string][]byte, map[string]error) {
	a.mu.Lock()
	dataKey := a.dataKey
	status := a.status
	a.mu.Unlock()

	out := make(map[string][]byte, len(fields))
	errs := make(map[string]error)
	if dataKey == nil {
		err := statusError(status)
		for name := range fields {
			errs[name] = err
		}
		return out, errs
	}
	for name, blob := range fields {
		plain, err := crypto.DecryptSymmetric(blob, dataKey)
		if err != nil {
			errs[name] = fmt.Errorf("field %q: %w", name, err)
			continue
		}
		out[name] = plain
	}
	return out, errs
}

// statusError translates a non-ready status into the sentinel a
// caller can branch on.
func statusError(s Status) error {
	if s == StatusNoLocalSecret {
		return fmt.Errorf("%w: unlock first", models.ErrNoLocalSecret)
	}
	return fmt.Errorf("%w: key status is %s", models.ErrNoDataKey, s)
}

// ChangePassword re-encrypts the private-key blob under the new
// password's KEK and submits it together with the password change, so
// verifier and blob can never drift apart. Requires the private key
// in memory, which any post-unlock non-broken state provides.
func (a *Agent) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	a.mu.Lock()
	priv := a.priv
	a.mu.Unlock()
	if priv == nil {
		return fmt.Errorf("%w: unlock before changing the password", models.ErrNoLocalSecret)
	}

	newKEK := crypto.DeriveKEK([]byte(newPassword), crypto.SaltForUsername(a.username))
	blob, err := crypto.EncryptPrivateKey(priv, newKEK)
	if err != nil {
		return err
	}
	if err := a.api.SubmitPasswordChange(ctx, currentPassword, newPassword, blob); err != nil {
		return err
	}

	a.mu.Lock()
	a.kek = newKEK
	a.mu.Unlock()
	if a.cache != nil {
		if err := a.cache.Save(a.username, newKEK); err != nil {
			return err
		}
	}
	return nil
}

// Reset asks the store to clear the target's key record so the
// identity can run setup again from scratch. Admin only; the target's
// old keys are unrecoverable afterwards.
func (a *Agent) Reset(ctx context.Context, targetUsername string) error {
	return a.api.SubmitReset(ctx, targetUsername)
}

// CreateIdentity enrolls a new identity with an initial password.
// Admin only.
func (a *Agent) CreateIdentity(ctx context.Context, username, password string, role models.Role) (*models.Identity, error) {
	return a.api.CreateIdentity(ctx, username, password, role)
}

// Disable revokes an identity. Admin only.
func (a *Agent) Disable(ctx context.Context, targetUsername string) error {
	return a.api.DisableIdentity(ctx, targetUsername)
}

// Logout wipes every secret the agent holds, including any persisted
// KEK. The next session starts at no_local_secret.
func (a *Agent) Logout() error {
	a.mu.Lock()
	for i := range a.kek {
		a.kek[i] = 0
	}
	for i := range a.dataKey {
		a.dataKey[i] = 0
	}
	a.kek = nil
	a.priv = nil
	a.dataKey = nil
	a.status = StatusNoLocalSecret
	a.mu.Unlock()

	if a.cache != nil {
		return a.cache.Clear()
	}
	return nil
}

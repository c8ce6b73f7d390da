package agent

import (
	"crypto/rsa"

	"github.com/ndanilov/piivault/internal/crypto"
	"github.com/ndanilov/piivault/internal/models"
)

// Status is the user-facing key state, derived purely from what the
// store holds plus whether the agent holds a live password-derived
// secret.
type Status string

const (
	// StatusNoLocalSecret: the agent holds no KEK (fresh session).
	StatusNoLocalSecret Status = "no_local_secret"
	// StatusNeedsSetup: the store holds no encrypted private key.
	StatusNeedsSetup Status = "needs_setup"
	// StatusPendingAccess: the private key decrypts but no wrapped
	// data key has been granted yet.
	StatusPendingAccess Status = "pending_access"
	// StatusReady: the data key unwrapped successfully.
	StatusReady Status = "ready"
	// StatusSetupBroken: a KEK was derived but the stored private key
	// does not decrypt under it. The password no longer matches the
	// stored keys; only an admin reset recovers from here.
	StatusSetupBroken Status = "setup_broken"
)

// Derive evaluates the key-status machine. It is total and has no side
// effects: for every combination of KEK presence, stored fields, and
// decrypt outcomes exactly one status is produced. On StatusReady the
// decrypted private key and data key are returned for the agent to
// hold; on every other status both are nil. On StatusPendingAccess the
// private key alone is returned.
//
// StatusSetupBroken is deliberately distinct from StatusNeedsSetup:
// "never set up" and "wrong password against stored keys" need
// different recovery paths and must not be collapsed into one branch.
func Derive(kek []byte, rec *models.KeyRecord) (Status, *rsa.PrivateKey, []byte) {
	if len(kek) == 0 {
		return StatusNoLocalSecret, nil, nil
	}
	if !rec.HasPrivateKey() {
		return StatusNeedsSetup, nil, nil
	}
	priv, err := crypto.DecryptPrivateKey(rec.EncryptedPrivateKey, kek)
	if err != nil {
		return StatusSetupBroken, nil, nil
	}
	if !rec.HasDataKey() {
		return StatusPendingAccess, priv, nil
	}
	dataKey, err := crypto.UnwrapKey(rec.WrappedDataKey, priv)
	if err != nil {
		// The wrapped copy does not match the private key; broken in
		// the same administrative sense as an undecryptable blob.
		return StatusSetupBroken, nil, nil
	}
	return StatusReady, priv, dataKey
}

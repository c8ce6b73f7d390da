package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ndanilov/piivault/internal/models"
)

// PostgresKeyRecordRepository implements key-record persistence against
// a PostgreSQL database. Every key field is an opaque blob here; the
// store side never decrypts anything.
type PostgresKeyRecordRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresKeyRecordRepository creates a new PostgresKeyRecordRepository
// using the provided *sql.DB.
func NewPostgresKeyRecordRepository(db *sql.DB) *PostgresKeyRecordRepository {
	return &PostgresKeyRecordRepository{DB: db}
}

// Get fetches the key record for an identity.
func (r *PostgresKeyRecordRepository) Get(ctx context.Context, identityID string) (*models.KeyRecord, error) {
	rec := models.KeyRecord{IdentityID: identityID}
	err := r.DB.QueryRowContext(ctx, `
		SELECT public_wrap_key, encrypted_private_key, wrapped_data_key
		  FROM key_records WHERE identity_id = $1
	`, identityID).Scan(&rec.PublicWrapKey, &rec.EncryptedPrivateKey, &rec.WrappedDataKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get key record: %w", err)
	}
	return &rec, nil
}

// SubmitSetup stores the key material produced by first-time setup in
// one atomic write. If the row already holds a non-empty encrypted
// private key, the existing record is returned unchanged together with
// models.ErrSetupConflict; a device that already holds working keys is
// never clobbered.
func (r *PostgresKeyRecordRepository) SubmitSetup(ctx context.Context, rec *models.KeyRecord) (*models.KeyRecord, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing := models.KeyRecord{IdentityID: rec.IdentityID}
	err = tx.QueryRowContext(ctx, `
		SELECT public_wrap_key, encrypted_private_key, wrapped_data_key
		  FROM key_records WHERE identity_id = $1 FOR UPDATE
	`, rec.IdentityID).Scan(&existing.PublicWrapKey, &existing.EncryptedPrivateKey, &existing.WrappedDataKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock key record: %w", err)
	}

	if existing.HasPrivateKey() {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &existing, models.ErrSetupConflict
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE key_records
		   SET public_wrap_key = $2, encrypted_private_key = $3, wrapped_data_key = $4
		 WHERE identity_id = $1
	`, rec.IdentityID, rec.PublicWrapKey, rec.EncryptedPrivateKey, rec.WrappedDataKey)
	if err != nil {
		return nil, fmt.Errorf("store setup: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// SaveWrappedDataKey persists a freshly wrapped data-key copy for the
// identity. Last write wins: concurrent grants wrap the same data key,
// so the outcome is idempotent.
func (r *PostgresKeyRecordRepository) SaveWrappedDataKey(ctx context.Context, identityID string, wrapped []byte) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE key_records SET wrapped_data_key = $2 WHERE identity_id = $1
	`, identityID, wrapped)
	if err != nil {
		return fmt.Errorf("save wrapped data key: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearWrappedDataKey removes the identity's wrapped data-key copy.
func (r *PostgresKeyRecordRepository) ClearWrappedDataKey(ctx context.Context, identityID string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE key_records SET wrapped_data_key = NULL WHERE identity_id = $1
	`, identityID)
	if err != nil {
		return fmt.Errorf("clear wrapped data key: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Reset clears all three key columns, forcing the identity back
// through setup and a fresh grant. The encrypted private key is
// cleared too; leaving it would make the next idempotent setup call
// hand back a blob the identity can no longer decrypt.
func (r *PostgresKeyRecordRepository) Reset(ctx context.Context, identityID string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE key_records
		   SET public_wrap_key = NULL, encrypted_private_key = NULL, wrapped_data_key = NULL
		 WHERE identity_id = $1
	`, identityID)
	if err != nil {
		return fmt.Errorf("reset key record: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SwapPrivateKeyBlob atomically replaces the password verifier and the
// KEK-encrypted private key blob in a single transaction. The wrapped
// data key is untouched: it depends only on the wrap pair, not the
// password.
func (r *PostgresKeyRecordRepository) SwapPrivateKeyBlob(ctx context.Context, identityID string, newVerifier, newBlob []byte) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE identities SET password_verifier = $2 WHERE id = $1
	`, identityID, newVerifier)
	if err != nil {
		return fmt.Errorf("swap verifier: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE key_records SET encrypted_private_key = $2 WHERE identity_id = $1
	`, identityID, newBlob)
	if err != nil {
		return fmt.Errorf("swap private key blob: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// bootstrapLockID keys the advisory lock that serializes bootstrap
// attempts across connections.
const bootstrapLockID = 815001

// SubmitBootstrap stores the first admin's complete key record. The
// existence check and the write run in one transaction under an
// advisory lock, so two concurrent bootstraps cannot both observe an
// empty store and persist two distinct data keys; the loser sees
// models.ErrDataKeyExists.
func (r *PostgresKeyRecordRepository) SubmitBootstrap(ctx context.Context, rec *models.KeyRecord) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, bootstrapLockID); err != nil {
		return fmt.Errorf("acquire bootstrap lock: %w", err)
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM key_records WHERE wrapped_data_key IS NOT NULL)
	`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check data key exists: %w", err)
	}
	if exists {
		return models.ErrDataKeyExists
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE key_records
		   SET public_wrap_key = $2, encrypted_private_key = $3, wrapped_data_key = $4
		 WHERE identity_id = $1
	`, rec.IdentityID, rec.PublicWrapKey, rec.EncryptedPrivateKey, rec.WrappedDataKey)
	if err != nil {
		return fmt.Errorf("store bootstrap: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

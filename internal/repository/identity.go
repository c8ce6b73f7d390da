// Package repository provides PostgreSQL persistence for identities,
// key records, and audit events.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ndanilov/piivault/internal/models"
)

// PostgresIdentityRepository implements identity persistence using a
// PostgreSQL database.
type PostgresIdentityRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresIdentityRepository creates a new PostgresIdentityRepository
// with the given database connection.
func NewPostgresIdentityRepository(db *sql.DB) *PostgresIdentityRepository {
	return &PostgresIdentityRepository{DB: db}
}

// Create inserts a new identity together with its empty key row in a
// single transaction, so a partially created identity is never
// observable. verifier is the salted password hash, never the KEK.
func (r *PostgresIdentityRepository) Create(ctx context.Context, id *models.Identity, verifier []byte) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (id, username, password_verifier, role, active)
		VALUES ($1, $2, $3, $4, TRUE)
	`, id.ID, id.Username, verifier, id.Role)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO key_records (identity_id) VALUES ($1)
	`, id.ID)
	if err != nil {
		return fmt.Errorf("insert key record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByUsername fetches an identity by its unique username.
func (r *PostgresIdentityRepository) GetByUsername(ctx context.Context, username string) (*models.Identity, error) {
	var id models.Identity
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, username, role, active FROM identities WHERE username = $1
	`, username).Scan(&id.ID, &id.Username, &id.Role, &id.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity by username: %w", err)
	}
	return &id, nil
}

// GetByID fetches an identity by its immutable id.
func (r *PostgresIdentityRepository) GetByID(ctx context.Context, identityID string) (*models.Identity, error) {
	var id models.Identity
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, username, role, active FROM identities WHERE id = $1
	`, identityID).Scan(&id.ID, &id.Username, &id.Role, &id.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity by id: %w", err)
	}
	return &id, nil
}

// GetVerifier returns the stored password verifier for an identity.
func (r *PostgresIdentityRepository) GetVerifier(ctx context.Context, identityID string) ([]byte, error) {
	var verifier []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT password_verifier FROM identities WHERE id = $1
	`, identityID).Scan(&verifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verifier: %w", err)
	}
	return verifier, nil
}

// SetActive enables or disables an identity.
func (r *PostgresIdentityRepository) SetActive(ctx context.Context, identityID string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE identities SET active = $2 WHERE id = $1
	`, identityID, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

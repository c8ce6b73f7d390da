package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// SeedInitialAdmin creates the first admin identity so a fresh
// deployment can register a device, bootstrap the data key, and start
// enrolling identities. It only acts on an empty identities table;
// once any identity exists the configured credentials are ignored, so
// a long-lived deployment never has its admin password silently
// rewritten from config. A no-op when password is unset.
func SeedInitialAdmin(ctx context.Context, db *sql.DB, username, password string, log *zap.Logger) error {
	if username == "" || password == "" {
		return nil
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return fmt.Errorf("count identities: %w", err)
	}
	if count > 0 {
		return nil
	}

	verifier, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO identities (id, username, password_verifier, role, active)
		VALUES ($1, $2, $3, 'admin', TRUE)
	`, id, username, verifier); err != nil {
		return fmt.Errorf("insert initial admin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO key_records (identity_id) VALUES ($1)
	`, id); err != nil {
		return fmt.Errorf("insert initial admin key row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Info("seeded initial admin identity", zap.String("username", username))
	return nil
}

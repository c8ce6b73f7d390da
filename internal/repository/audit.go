package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ndanilov/piivault/internal/models"
)

// PostgresAuditRepository persists audit events.
type PostgresAuditRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuditRepository creates a new PostgresAuditRepository with
// the given database connection.
func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{DB: db}
}

// Record inserts one audit event.
func (r *PostgresAuditRepository) Record(ctx context.Context, ev *models.AuditEvent) error {
	var target any
	if ev.TargetID != "" {
		target = ev.TargetID
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, actor_id, target_id, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.Action, ev.ActorID, target, ev.Success, ev.At)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

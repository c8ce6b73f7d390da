// Package service provides the key-management business logic,
// delegating persistence to repository interfaces.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndanilov/piivault/internal/models"
)

// AuditRecorder defines the persistence operation required for the
// audit trail.
type AuditRecorder interface {
	// Record persists one audit event.
	Record(ctx context.Context, ev *models.AuditEvent) error
}

// Auditor emits structured audit events. Emission is best effort: a
// failing audit store is logged and never fails the operation being
// audited.
type Auditor struct {
	repo AuditRecorder
	log  *zap.Logger
}

// NewAuditor constructs an Auditor. repo may be nil, in which case
// events are dropped silently.
func NewAuditor(repo AuditRecorder, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{repo: repo, log: log}
}

// Emit records one {action, actor, target, success, timestamp} event.
func (a *Auditor) Emit(ctx context.Context, action models.AuditAction, actorID, targetID string, success bool) {
	if a == nil || a.repo == nil {
		return
	}
	ev := &models.AuditEvent{
		ID:       uuid.NewString(),
		Action:   action,
		ActorID:  actorID,
		TargetID: targetID,
		Success:  success,
		At:       time.Now().UTC(),
	}
	if err := a.repo.Record(ctx, ev); err != nil {
		a.log.Error("failed to record audit event",
			zap.String("action", string(action)),
			zap.String("actor", actorID),
			zap.Error(err),
		)
	}
}

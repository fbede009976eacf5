package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/monitoring"
	"github.com/riteshkumar/booking-escrow/internal/repository"
)

const auditWriteTimeout = 5 * time.Second

// AuditLogger appends one entry per mutating attempt. Recording never fails the
// operation being described: write failures go to the error log and the
// escrow_audit_write_failures_total counter instead.
type AuditLogger struct {
	repo   repository.AuditRepository
	logger *slog.Logger
}

func NewAuditLogger(repo repository.AuditRepository, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		repo:   repo,
		logger: logger,
	}
}

// Record persists entry. The caller's cancellation does not stop the write.
func (a *AuditLogger) Record(ctx context.Context, entry *models.AuditLog) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := a.repo.Append(ctx, entry); err != nil {
		monitoring.TrackAuditFailure()
		a.logger.Error("failed to write audit log",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"actor_id", entry.ActorID,
			"audit_status", entry.Status,
			"error", err.Error(),
		)
	}
}

func (a *AuditLogger) ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	logs, err := a.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		a.logger.Error("failed to list audit logs",
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err.Error(),
		)
		return nil, errors.NewProcessingError("list audit logs", err)
	}
	return logs, nil
}

// newAuditEntry builds an entry whose status and description follow err.
// Processing errors are described by their generic message only.
func newAuditEntry(action string, actor models.Actor, entityType, entityID, description string, payload any, err error) *models.AuditLog {
	entry := &models.AuditLog{
		Action:      action,
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: description,
		Status:      models.AuditStatusSuccess,
	}
	if err != nil {
		entry.Status = models.AuditStatusFailed
		entry.Description = string(errors.KindOf(err)) + ": " + err.Error()
	}
	if payload != nil {
		if raw, mErr := json.Marshal(payload); mErr == nil {
			entry.Payload = raw
		}
	}
	return entry
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/riteshkumar/booking-escrow/internal/models"
)

// AuditRepository is insert-only: entries are never updated or deleted.
type AuditRepository interface {
	Append(ctx context.Context, log *models.AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error)
}

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Append inserts a new audit log entry using the db connection directly, outside
// any business transaction, so a rolled back operation is still recorded.
func (r *PostgresAuditRepository) Append(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	query := `INSERT INTO audit_logs (id, action, actor_id, actor_role, entity_type, entity_id, description, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP)
		RETURNING created_at`

	var payload interface{}
	if log.Payload != nil {
		payload = string(log.Payload)
	}

	err := r.db.QueryRowContext(ctx, query,
		log.ID,
		log.Action,
		log.ActorID,
		log.ActorRole,
		log.EntityType,
		log.EntityID,
		log.Description,
		log.Status,
		payload,
	).Scan(&log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// ListByEntity retrieves audit logs for a specific entity type and ID, oldest first.
func (r *PostgresAuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	query := `SELECT id, action, actor_id, actor_role, entity_type, entity_id, description, status, payload, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs by entity ID: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var payload []byte

		err := rows.Scan(&log.ID, &log.Action, &log.ActorID, &log.ActorRole, &log.EntityType, &log.EntityID,
			&log.Description, &log.Status, &payload, &log.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if payload != nil {
			log.Payload = json.RawMessage(payload)
		}

		logs = append(logs, log)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over audit logs: %w", err)
	}
	return logs, nil
}

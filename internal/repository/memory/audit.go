package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/repository"
)

type AuditRepository struct {
	mu   sync.RWMutex
	logs []models.AuditLog
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Append(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	r.logs = append(r.logs, *log)
	return nil
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.AuditLog
	for i := range r.logs {
		if r.logs[i].EntityType == entityType && r.logs[i].EntityID == entityID {
			l := r.logs[i]
			out = append(out, &l)
		}
	}
	return out, nil
}

// All returns every entry in append order.
func (r *AuditRepository) All() []models.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.AuditLog(nil), r.logs...)
}

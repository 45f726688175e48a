package repository

import (
	"context"

	"github.com/sifan077/PowerCMS/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChangeLogRepository defines the data access contract for persisted change events.
type ChangeLogRepository interface {
	Create(ctx context.Context, entry *model.ChangeLog) error
	ListByRecord(ctx context.Context, resourceType, recordID string, limit int) ([]model.ChangeLog, error)
}

type changeLogRepository struct {
	db *gorm.DB
}

// NewChangeLogRepository returns a GORM-backed ChangeLogRepository.
func NewChangeLogRepository(db *gorm.DB) ChangeLogRepository {
	return &changeLogRepository{db: db}
}

// Create inserts entry; redelivered messages with a known id are ignored.
func (r *changeLogRepository) Create(ctx context.Context, entry *model.ChangeLog) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
}

func (r *changeLogRepository) ListByRecord(ctx context.Context, resourceType, recordID string, limit int) ([]model.ChangeLog, error) {
	if limit <= 0 {
		limit = 50
	}

	var result []model.ChangeLog
	if err := r.db.WithContext(ctx).
		Where("resource_type = ? AND record_id = ?", resourceType, recordID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

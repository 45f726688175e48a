package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/PowerCMS/internal/app/model"
	"gorm.io/gorm"
)

// RecordRow is the Postgres row shape of a record.
type RecordRow struct {
	ResourceType string            `gorm:"primaryKey;size:32"`
	ID           string            `gorm:"primaryKey;size:32"`
	Title        string            `gorm:"type:text;not null;default:''"`
	Image        *string           `gorm:"type:text"`
	TimeOn       time.Time         `gorm:"not null"`
	TimeOff      time.Time         `gorm:"not null;index"`
	Enable       bool              `gorm:"not null;default:false"`
	AutoEnable   bool              `gorm:"not null;default:false"`
	Pinned       bool              `gorm:"not null;default:false"`
	Priority     int               `gorm:"not null;default:0"`
	CreatedAt    time.Time         `gorm:"not null"`
	EditTime     time.Time         `gorm:"not null"`
	Fields       map[string]string `gorm:"type:jsonb;serializer:json"`
	Position     int               `gorm:"not null;default:0"`
}

func (RecordRow) TableName() string {
	return "publishable_records"
}

type postgresStore struct {
	db *gorm.DB
}

// NewPostgresStore returns a GORM-backed RecordStore. The caller migrates RecordRow.
func NewPostgresStore(db *gorm.DB) RecordStore {
	return &postgresStore{db: db}
}

func (s *postgresStore) LoadAll(ctx context.Context, rt model.ResourceType) ([]model.Record, error) {
	var rows []RecordRow
	if err := collectionQuery(s.db.WithContext(ctx), rt.Name).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrStoreIO, rt.Name, err)
	}

	records := make([]model.Record, len(rows))
	for i, row := range rows {
		records[i] = row.toRecord()
	}
	return records, nil
}

// SaveAll replaces the resource type's rows in a single transaction.
func (s *postgresStore) SaveAll(ctx context.Context, rt model.ResourceType, records []model.Record) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_type = ?", rt.Name).Delete(&RecordRow{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		rows := make([]RecordRow, len(records))
		for i, rec := range records {
			rows[i] = rowFromRecord(rt.Name, i, rec)
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrStoreIO, rt.Name, err)
	}
	return nil
}

func (s *postgresStore) Close() error { return nil }

// collectionQuery selects one resource type's rows in saved order.
func collectionQuery(db *gorm.DB, resourceType string) *gorm.DB {
	return db.Where("resource_type = ?", resourceType).Order("position ASC")
}

func rowFromRecord(resourceType string, position int, rec model.Record) RecordRow {
	return RecordRow{
		ResourceType: resourceType,
		ID:           rec.ID,
		Title:        rec.Title,
		Image:        rec.Image,
		TimeOn:       rec.TimeOn,
		TimeOff:      rec.TimeOff,
		Enable:       rec.Enable,
		AutoEnable:   rec.AutoEnable,
		Pinned:       rec.Pinned,
		Priority:     rec.Priority,
		CreatedAt:    rec.CreatedAt,
		EditTime:     rec.EditTime,
		Fields:       rec.Fields,
		Position:     position,
	}
}

func (row RecordRow) toRecord() model.Record {
	return model.Record{
		ID:         row.ID,
		Title:      row.Title,
		Image:      row.Image,
		TimeOn:     row.TimeOn,
		TimeOff:    row.TimeOff,
		Enable:     row.Enable,
		AutoEnable: row.AutoEnable,
		Pinned:     row.Pinned,
		Priority:   row.Priority,
		CreatedAt:  row.CreatedAt,
		EditTime:   row.EditTime,
		Fields:     row.Fields,
	}
}

package model

import "time"

// ChangeLog is one persisted change event, stored in Postgres by the change log consumer.
type ChangeLog struct {
	ID           string    `gorm:"primaryKey;size:36"`
	ResourceType string    `gorm:"size:32;not null;index:idx_change_logs_record,priority:1"`
	RecordID     string    `gorm:"size:32;not null;index:idx_change_logs_record,priority:2"`
	Type         string    `gorm:"size:16;not null"`
	Reason       string    `gorm:"size:32"`
	Enable       bool      `gorm:"not null;default:false"`
	AutoEnable   bool      `gorm:"not null;default:false"`
	Pinned       bool      `gorm:"not null;default:false"`
	Origin       string    `gorm:"size:64"`
	OccurredAt   time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (ChangeLog) TableName() string {
	return "change_logs"
}

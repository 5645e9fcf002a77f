package services

import (
	"context"

	"coffee-bot/models"

	"gorm.io/gorm"
)

// DeliveryRecorder persists one row per send attempt.
type DeliveryRecorder interface {
	Record(ctx context.Context, entry *models.DeliveryLog) error
}

type GormRecorder struct {
	db *gorm.DB
}

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

func (r *GormRecorder) Record(ctx context.Context, entry *models.DeliveryLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// NopRecorder drops every entry. Used when no database is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *models.DeliveryLog) error { return nil }

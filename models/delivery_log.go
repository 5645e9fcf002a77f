// models/delivery_log.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DeliveryStatusSent   = "sent"
	DeliveryStatusFailed = "failed"
)

// DeliveryLog is one send attempt to one recipient.
type DeliveryLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key"`
	BatchID      uuid.UUID `gorm:"type:uuid;index;not null"` // one batch per fire
	Recipient    string    `gorm:"type:varchar(32);index;not null"`
	Message      string    `gorm:"type:text"`
	Status       string    `gorm:"type:varchar(20)"` // sent, failed
	ErrorMessage string    `gorm:"type:text"`
	Channel      string    `gorm:"type:varchar(20)"` // sms, whatsapp
	SID          string    `gorm:"type:varchar(64)"`
	SentAt       time.Time
	gorm.Model
}

func (d *DeliveryLog) BeforeCreate(tx *gorm.DB) (err error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return
}

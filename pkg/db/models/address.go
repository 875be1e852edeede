package models

import (
	"time"

	"github.com/google/uuid"
)

// Address is a named coordinate pair. UserID is nil for shop addresses.
type Address struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    *uuid.UUID `gorm:"column:user_id;type:uuid"`
	Name      string     `gorm:"column:name;not null"`
	Lat       float64    `gorm:"column:lat;not null"`
	Lng       float64    `gorm:"column:lng;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

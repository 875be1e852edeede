package models

import (
	"time"

	"github.com/google/uuid"
)

// Shop is one seller's storefront. The engine reads it for ownership checks
// and for the origin coordinates of shipping quotes.
type Shop struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerUserID uuid.UUID `gorm:"column:owner_user_id;type:uuid;not null"`
	Name        string    `gorm:"column:name;not null"`
	AddressID   uuid.UUID `gorm:"column:address_id;type:uuid;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

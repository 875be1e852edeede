package models

import (
	"time"

	"github.com/google/uuid"
)

// Item is a sellable catalog row. Stock is guarded by the Version token:
// every write must carry the version it read, and bumps it.
type Item struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopID     uuid.UUID `gorm:"column:shop_id;type:uuid;not null;index"`
	Name       string    `gorm:"column:name;not null"`
	PriceCents int       `gorm:"column:price_cents;not null"`
	Stock      int       `gorm:"column:stock;not null;default:0"`
	Version    int64     `gorm:"column:version;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketa-io/marketa-backend/pkg/enums"
)

// OrderItem is one line of a shop order. Name and UnitPriceCents are a
// snapshot taken at order time and never float with later catalog changes.
type OrderItem struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopOrderID    uuid.UUID             `gorm:"column:shop_order_id;type:uuid;not null;index"`
	ItemID         uuid.UUID             `gorm:"column:item_id;type:uuid;not null"`
	Name           string                `gorm:"column:name;not null"`
	UnitPriceCents int                   `gorm:"column:unit_price_cents;not null"`
	Quantity       int                   `gorm:"column:quantity;not null"`
	TotalCents     int                   `gorm:"column:total_cents;not null"`
	Status         enums.OrderItemStatus `gorm:"column:status;type:text;not null;default:'pending_confirmation'"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

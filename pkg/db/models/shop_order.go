package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketa-io/marketa-backend/pkg/enums"
)

// ShopOrder is one seller's slice of an order: the unit at which shipping,
// delivery and payout are tracked. SubtotalCents equals the sum of its
// order item totals at creation time.
type ShopOrder struct {
	ID                   uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	ShopID               uuid.UUID             `gorm:"column:shop_id;type:uuid;not null;index"`
	Status               enums.ShopOrderStatus `gorm:"column:status;type:text;not null;default:'pending_confirmation'"`
	SubtotalCents        int                   `gorm:"column:subtotal_cents;not null"`
	VoucherID            *uuid.UUID            `gorm:"column:voucher_id;type:uuid"`
	VoucherDiscountCents int                   `gorm:"column:voucher_discount_cents;not null;default:0"`
	ShippingFeeCents     int                   `gorm:"column:shipping_fee_cents;not null;default:0"`
	TotalCents           int                   `gorm:"column:total_cents;not null"`
	TrackingCode         string                `gorm:"column:tracking_code;not null"`
	DeliveredAt          *time.Time            `gorm:"column:delivered_at"`
	CreatedAt            time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

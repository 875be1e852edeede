package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketa-io/marketa-backend/pkg/enums"
)

// Order identifies a single checkout. Relationships are id fields plus
// explicit lookup; the delivery address is snapshotted inline so later
// address edits cannot drift an already-placed order.
type Order struct {
	ID                    uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerUserID           uuid.UUID         `gorm:"column:buyer_user_id;type:uuid;not null;index"`
	Status                enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending_payment'"`
	SubtotalCents         int               `gorm:"column:subtotal_cents;not null"`
	ShippingTotalCents    int               `gorm:"column:shipping_total_cents;not null;default:0"`
	ProductDiscountCents  int               `gorm:"column:product_discount_cents;not null;default:0"`
	ShippingDiscountCents int               `gorm:"column:shipping_discount_cents;not null;default:0"`
	TotalCents            int               `gorm:"column:total_cents;not null"`
	ProductVoucherID      *uuid.UUID        `gorm:"column:product_voucher_id;type:uuid"`
	ShippingVoucherID     *uuid.UUID        `gorm:"column:shipping_voucher_id;type:uuid"`
	AddressName           string            `gorm:"column:address_name;not null"`
	AddressLat            float64           `gorm:"column:address_lat;not null"`
	AddressLng            float64           `gorm:"column:address_lng;not null"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

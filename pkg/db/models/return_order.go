package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketa-io/marketa-backend/pkg/enums"
)

// ReturnOrder is a buyer's return request rooted at one shop order.
// AmountCents is the refund due when the return is approved.
type ReturnOrder struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	ShopOrderID uuid.UUID          `gorm:"column:shop_order_id;type:uuid;not null;index"`
	BuyerUserID uuid.UUID          `gorm:"column:buyer_user_id;type:uuid;not null"`
	Status      enums.ReturnStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	AmountCents int                `gorm:"column:amount_cents;not null"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// ReturnOrderItem is one returned line, with its own quantity, reason and
// tracking code.
type ReturnOrderItem struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ReturnOrderID uuid.UUID          `gorm:"column:return_order_id;type:uuid;not null;index"`
	OrderItemID   uuid.UUID          `gorm:"column:order_item_id;type:uuid;not null"`
	Quantity      int                `gorm:"column:quantity;not null"`
	Reason        string             `gorm:"column:reason;not null"`
	RejectReason  string             `gorm:"column:reject_reason;not null;default:''"`
	Status        enums.ReturnStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	TrackingCode  string             `gorm:"column:tracking_code;not null"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

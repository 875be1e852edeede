package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketa-io/marketa-backend/pkg/enums"
)

// Transaction is an immutable ledger entry. Created once, never updated.
type Transaction struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Type          enums.TransactionType   `gorm:"column:type;type:text;not null"`
	Status        enums.TransactionStatus `gorm:"column:status;type:text;not null;default:'completed'"`
	AmountCents   int                     `gorm:"column:amount_cents;not null"`
	FromUserID    *uuid.UUID              `gorm:"column:from_user_id;type:uuid"`
	ToUserID      *uuid.UUID              `gorm:"column:to_user_id;type:uuid"`
	OrderID       *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	ShopOrderID   *uuid.UUID              `gorm:"column:shop_order_id;type:uuid"`
	ReturnOrderID *uuid.UUID              `gorm:"column:return_order_id;type:uuid"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
}

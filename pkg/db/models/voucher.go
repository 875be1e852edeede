package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketa-io/marketa-backend/pkg/enums"
)

// Voucher is a redeemable discount instrument. Quantity and IsActive share
// the Version token with the hourly window sweep so redemptions and sweeps
// cannot silently overwrite each other.
type Voucher struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code          string              `gorm:"column:code;not null;uniqueIndex"`
	Scope         enums.VoucherScope  `gorm:"column:scope;type:text;not null"`
	ShopID        *uuid.UUID          `gorm:"column:shop_id;type:uuid"`
	Method        enums.VoucherMethod `gorm:"column:method;type:text;not null"`
	Value         int                 `gorm:"column:value;not null"`
	MaxValueCents int                 `gorm:"column:max_value_cents;not null;default:0"`
	MinSpendCents int                 `gorm:"column:min_spend_cents;not null;default:0"`
	Quantity      int                 `gorm:"column:quantity;not null;default:0"`
	StartDate     time.Time           `gorm:"column:start_date;not null"`
	EndDate       time.Time           `gorm:"column:end_date;not null"`
	IsActive      bool                `gorm:"column:is_active;not null;default:false"`
	Version       int64               `gorm:"column:version;not null;default:0"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

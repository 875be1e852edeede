package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderHistory is the append-only audit trail of status changes. The engine
// only writes these rows; reporting reads them.
type OrderHistory struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ShopOrderID *uuid.UUID `gorm:"column:shop_order_id;type:uuid"`
	FromStatus  string     `gorm:"column:from_status;not null;default:''"`
	ToStatus    string     `gorm:"column:to_status;not null"`
	ActorUserID uuid.UUID  `gorm:"column:actor_user_id;type:uuid;not null"`
	Note        string     `gorm:"column:note;not null;default:''"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

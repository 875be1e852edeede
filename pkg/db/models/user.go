package models

import (
	"time"

	"github.com/google/uuid"
)

// User holds the account fields the order engine touches. BalanceCents is
// mutated exclusively by ledger operations.
type User struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name             string     `gorm:"column:name;not null"`
	Email            string     `gorm:"column:email;not null;uniqueIndex"`
	Roles            string     `gorm:"column:roles;not null;default:'customer'"`
	BalanceCents     int        `gorm:"column:balance_cents;not null;default:0"`
	DefaultAddressID *uuid.UUID `gorm:"column:default_address_id;type:uuid"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

package orders

import (
	"github.com/google/uuid"

	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
)

// Actor is the resolved caller identity the excluded auth layer supplies.
type Actor struct {
	UserID uuid.UUID
	Roles  enums.RoleSet
}

// NewAddressInput persists a fresh delivery address during order assembly.
type NewAddressInput struct {
	Name string  `validate:"required"`
	Lat  float64 `validate:"gte=-90,lte=90"`
	Lng  float64 `validate:"gte=-180,lte=180"`
}

// CreateOrderInput carries everything order assembly consumes. Exactly one
// address source must resolve: AddressID, NewAddress, or the buyer's
// default address, in that order.
type CreateOrderInput struct {
	Actor       Actor
	CartItemIDs []uuid.UUID `validate:"min=1"`
	AddressID   *uuid.UUID
	NewAddress  *NewAddressInput

	// ShopVouchers maps a shop id to the shop-scoped voucher to redeem
	// against that shop's subtotal.
	ShopVouchers      map[uuid.UUID]uuid.UUID
	ProductVoucherID  *uuid.UUID
	ShippingVoucherID *uuid.UUID
}

// ShopOrderDetail pairs a shop order with its line items.
type ShopOrderDetail struct {
	ShopOrder models.ShopOrder
	Items     []models.OrderItem
}

// OrderGraph is the full read model of one checkout.
type OrderGraph struct {
	Order      models.Order
	ShopOrders []ShopOrderDetail
}

// SweepResult reports what a completion sweep promoted.
type SweepResult struct {
	ShopOrdersCompleted int64
	OrdersCompleted     int64
}

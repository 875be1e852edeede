package enums

import "fmt"

// ShopOrderStatus tracks the per-seller shipment slice of an order.
type ShopOrderStatus string

const (
	ShopOrderStatusPendingConfirmation ShopOrderStatus = "pending_confirmation"
	ShopOrderStatusProcessing          ShopOrderStatus = "processing"
	ShopOrderStatusReadyToShip         ShopOrderStatus = "ready_to_ship"
	ShopOrderStatusShipped             ShopOrderStatus = "shipped"
	ShopOrderStatusDelivered           ShopOrderStatus = "delivered"
	ShopOrderStatusCompleted           ShopOrderStatus = "completed"
	ShopOrderStatusCanceled            ShopOrderStatus = "canceled"
)

var validShopOrderStatuses = []ShopOrderStatus{
	ShopOrderStatusPendingConfirmation,
	ShopOrderStatusProcessing,
	ShopOrderStatusReadyToShip,
	ShopOrderStatusShipped,
	ShopOrderStatusDelivered,
	ShopOrderStatusCompleted,
	ShopOrderStatusCanceled,
}

// String implements fmt.Stringer.
func (s ShopOrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ShopOrderStatus.
func (s ShopOrderStatus) IsValid() bool {
	for _, candidate := range validShopOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Cancelable reports whether a shop order may still be canceled. Anything
// delivered or later is out of reach.
func (s ShopOrderStatus) Cancelable() bool {
	switch s {
	case ShopOrderStatusPendingConfirmation, ShopOrderStatusProcessing,
		ShopOrderStatusReadyToShip, ShopOrderStatusShipped:
		return true
	}
	return false
}

// ParseShopOrderStatus converts raw input into a ShopOrderStatus.
func ParseShopOrderStatus(value string) (ShopOrderStatus, error) {
	for _, candidate := range validShopOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shop order status %q", value)
}

package enums

import "fmt"

// OrderItemStatus mirrors the owning shop order's progression, plus the
// per-item return sub-path.
type OrderItemStatus string

const (
	OrderItemStatusPendingConfirmation OrderItemStatus = "pending_confirmation"
	OrderItemStatusProcessing          OrderItemStatus = "processing"
	OrderItemStatusReadyToShip         OrderItemStatus = "ready_to_ship"
	OrderItemStatusShipped             OrderItemStatus = "shipped"
	OrderItemStatusDelivered           OrderItemStatus = "delivered"
	OrderItemStatusCompleted           OrderItemStatus = "completed"
	OrderItemStatusCanceled            OrderItemStatus = "canceled"
	OrderItemStatusReturnRequested     OrderItemStatus = "return_requested"
	OrderItemStatusReturnApproved      OrderItemStatus = "return_approved"
	OrderItemStatusReturnRejected      OrderItemStatus = "return_rejected"
)

var validOrderItemStatuses = []OrderItemStatus{
	OrderItemStatusPendingConfirmation,
	OrderItemStatusProcessing,
	OrderItemStatusReadyToShip,
	OrderItemStatusShipped,
	OrderItemStatusDelivered,
	OrderItemStatusCompleted,
	OrderItemStatusCanceled,
	OrderItemStatusReturnRequested,
	OrderItemStatusReturnApproved,
	OrderItemStatusReturnRejected,
}

// String implements fmt.Stringer.
func (s OrderItemStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderItemStatus.
func (s OrderItemStatus) IsValid() bool {
	for _, candidate := range validOrderItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ItemStatusForShopStatus maps a shop order status onto the item status that
// every line in the shop takes when the shipment advances.
func ItemStatusForShopStatus(status ShopOrderStatus) (OrderItemStatus, error) {
	switch status {
	case ShopOrderStatusPendingConfirmation:
		return OrderItemStatusPendingConfirmation, nil
	case ShopOrderStatusProcessing:
		return OrderItemStatusProcessing, nil
	case ShopOrderStatusReadyToShip:
		return OrderItemStatusReadyToShip, nil
	case ShopOrderStatusShipped:
		return OrderItemStatusShipped, nil
	case ShopOrderStatusDelivered:
		return OrderItemStatusDelivered, nil
	case ShopOrderStatusCompleted:
		return OrderItemStatusCompleted, nil
	case ShopOrderStatusCanceled:
		return OrderItemStatusCanceled, nil
	}
	return "", fmt.Errorf("no item status for shop order status %q", status)
}

// ParseOrderItemStatus converts raw input into an OrderItemStatus.
func ParseOrderItemStatus(value string) (OrderItemStatus, error) {
	for _, candidate := range validOrderItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order item status %q", value)
}

package enums

import "fmt"

// OrderStatus tracks the lifecycle of a whole checkout order.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCanceled       OrderStatus = "canceled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCanceled,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

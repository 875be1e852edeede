package returns

import (
	"github.com/google/uuid"

	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
)

// Actor is the resolved caller identity passed in from the edge.
type Actor struct {
	UserID uuid.UUID
	Roles  enums.RoleSet
}

// ReturnLine is one (order item, quantity) pair of a return request.
type ReturnLine struct {
	OrderItemID uuid.UUID `validate:"required"`
	Quantity    int
	Reason      string `validate:"required"`
}

// ReturnRequestInput opens a return for delivered lines of one shop order.
type ReturnRequestInput struct {
	Actor Actor
	Lines []ReturnLine `validate:"min=1,dive"`
}

// SellerResolveInput approves or rejects individual return items. RejectReason
// is mandatory when Approve is false.
type SellerResolveInput struct {
	Actor         Actor
	ReturnOrderID uuid.UUID   `validate:"required"`
	ItemIDs       []uuid.UUID `validate:"min=1"`
	Approve       bool
	RejectReason  string
}

// AdminProcessInput settles a whole return order in one decision.
type AdminProcessInput struct {
	Actor         Actor
	ReturnOrderID uuid.UUID `validate:"required"`
	Approve       bool
	Reason        string
}

// ReturnDetail is a return order with its lines.
type ReturnDetail struct {
	ReturnOrder models.ReturnOrder
	Items       []models.ReturnOrderItem
}

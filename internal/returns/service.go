package returns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marketa-io/marketa-backend/internal/orders"
	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
	pkgerrors "github.com/marketa-io/marketa-backend/pkg/errors"
	"github.com/marketa-io/marketa-backend/pkg/logger"
	"github.com/marketa-io/marketa-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service drives the return sub-flow: a buyer opens a return against
// delivered lines, a seller or admin decides it, and an approved return
// becomes refundable.
type Service interface {
	Request(ctx context.Context, input ReturnRequestInput) (*ReturnDetail, error)
	ResolveItems(ctx context.Context, input SellerResolveInput) (*ReturnDetail, error)
	Process(ctx context.Context, input AdminProcessInput) (*ReturnDetail, error)
	GetReturn(ctx context.Context, returnOrderID uuid.UUID, actor Actor) (*ReturnDetail, error)
	ListReturnsByBuyer(ctx context.Context, actor Actor, params pagination.Params) ([]models.ReturnOrder, string, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	logg     *logger.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds a returns service with the required dependencies.
func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("returns repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		logg:     logg,
		validate: validator.New(),
		now:      time.Now,
	}, nil
}

func (s *service) Request(ctx context.Context, input ReturnRequestInput) (*ReturnDetail, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid return request")
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeQuantityReturnInvalid, "returned quantity must be positive")
		}
	}

	now := s.now()
	var detail *ReturnDetail
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		itemIDs := make([]uuid.UUID, 0, len(input.Lines))
		for _, line := range input.Lines {
			itemIDs = append(itemIDs, line.OrderItemID)
		}
		orderItems, err := repo.FindOrderItems(ctx, itemIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order items")
		}
		if len(orderItems) != len(itemIDs) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		itemByID := make(map[uuid.UUID]models.OrderItem, len(orderItems))
		for _, item := range orderItems {
			itemByID[item.ID] = item
		}

		// A return order is rooted at one shipment so the delivery window is
		// well defined for all of its lines.
		shopOrderID := orderItems[0].ShopOrderID
		for _, item := range orderItems {
			if item.ShopOrderID != shopOrderID {
				return pkgerrors.New(pkgerrors.CodeValidation, "return lines must target a single shop order")
			}
		}

		shopOrder, err := repo.FindShopOrder(ctx, shopOrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shop order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop order")
		}
		order, err := repo.FindOrder(ctx, shopOrder.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order")
		}
		if order.BuyerUserID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeNotPermitted, "order does not belong to the caller")
		}

		if shopOrder.Status != enums.ShopOrderStatusDelivered || shopOrder.DeliveredAt == nil {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "shop order is not delivered")
		}
		if now.After(shopOrder.DeliveredAt.Add(orders.ReturnWindow)) {
			return pkgerrors.New(pkgerrors.CodeReturnPeriodExpired, "return window has closed")
		}

		amountCents := 0
		returnItems := make([]models.ReturnOrderItem, 0, len(input.Lines))
		for _, line := range input.Lines {
			orderItem := itemByID[line.OrderItemID]
			if line.Quantity > orderItem.Quantity {
				return pkgerrors.New(pkgerrors.CodeQuantityReturnInvalid, "returned quantity exceeds the ordered quantity")
			}

			rows, err := repo.SetOrderItemStatus(ctx, orderItem.ID,
				enums.OrderItemStatusDelivered, enums.OrderItemStatusReturnRequested)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "mark order item return requested")
			}
			if rows == 0 {
				return pkgerrors.New(pkgerrors.CodeInvalidState, "order item is not returnable")
			}

			amountCents += line.Quantity * orderItem.UnitPriceCents
			returnItems = append(returnItems, models.ReturnOrderItem{
				OrderItemID:  orderItem.ID,
				Quantity:     line.Quantity,
				Reason:       line.Reason,
				Status:       enums.ReturnStatusPending,
				TrackingCode: returnTrackingCode(),
			})
		}

		returnOrder := models.ReturnOrder{
			OrderID:     order.ID,
			ShopOrderID: shopOrder.ID,
			BuyerUserID: order.BuyerUserID,
			Status:      enums.ReturnStatusPending,
			AmountCents: amountCents,
		}
		if err := repo.CreateReturnOrder(ctx, &returnOrder); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "create return order")
		}
		for i := range returnItems {
			returnItems[i].ReturnOrderID = returnOrder.ID
		}
		if err := repo.CreateReturnItems(ctx, returnItems); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "create return items")
		}

		history := models.OrderHistory{
			OrderID:     order.ID,
			ShopOrderID: &shopOrder.ID,
			FromStatus:  enums.OrderItemStatusDelivered.String(),
			ToStatus:    enums.OrderItemStatusReturnRequested.String(),
			ActorUserID: input.Actor.UserID,
			Note:        "Return requested",
		}
		if err := repo.CreateOrderHistory(ctx, &history); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record return history")
		}

		detail = &ReturnDetail{ReturnOrder: returnOrder, Items: returnItems}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, detail.ReturnOrder.OrderID.String()), "return requested")
	return detail, nil
}

func (s *service) ResolveItems(ctx context.Context, input SellerResolveInput) (*ReturnDetail, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolve input")
	}
	if !input.Approve && strings.TrimSpace(input.RejectReason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeReasonRequired, "rejection requires a reason")
	}

	var detail *ReturnDetail
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		returnOrder, shopOrder, err := s.loadReturn(ctx, repo, input.ReturnOrderID)
		if err != nil {
			return err
		}
		shop, err := repo.FindShop(ctx, shopOrder.ShopID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop")
		}
		if shop.OwnerUserID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeNotPermitted, "shop order does not belong to the caller")
		}

		targets, err := repo.FindReturnItemsByIDs(ctx, returnOrder.ID, input.ItemIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load return items")
		}
		if len(targets) != len(input.ItemIDs) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "return item not found")
		}

		if input.Approve {
			err = s.approveItemsTx(ctx, repo, targets)
		} else {
			err = s.rejectItemsTx(ctx, repo, targets, input.RejectReason)
		}
		if err != nil {
			return err
		}

		detail, err = s.settleReturnOrder(ctx, repo, returnOrder)
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *service) Process(ctx context.Context, input AdminProcessInput) (*ReturnDetail, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Actor.Roles.Has(enums.RoleAdmin) {
		return nil, pkgerrors.New(pkgerrors.CodeNotPermitted, "admin role required")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid process input")
	}
	if !input.Approve && strings.TrimSpace(input.Reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeReasonRequired, "rejection requires a reason")
	}

	var detail *ReturnDetail
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		returnOrder, _, err := s.loadReturn(ctx, repo, input.ReturnOrderID)
		if err != nil {
			return err
		}
		if returnOrder.Status == enums.ReturnStatusApproved || returnOrder.Status == enums.ReturnStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "return order already processed")
		}

		items, err := repo.FindReturnItems(ctx, returnOrder.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load return items")
		}
		pending := make([]models.ReturnOrderItem, 0, len(items))
		for _, item := range items {
			if item.Status == enums.ReturnStatusPending {
				pending = append(pending, item)
			}
		}

		if input.Approve {
			err = s.approveItemsTx(ctx, repo, pending)
		} else {
			err = s.rejectItemsTx(ctx, repo, pending, input.Reason)
		}
		if err != nil {
			return err
		}

		detail, err = s.settleReturnOrder(ctx, repo, returnOrder)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, detail.ReturnOrder.OrderID.String()), "return processed")
	return detail, nil
}

func (s *service) GetReturn(ctx context.Context, returnOrderID uuid.UUID, actor Actor) (*ReturnDetail, error) {
	if returnOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return order id required")
	}

	returnOrder, err := s.repo.FindReturnOrder(ctx, returnOrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "return order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load return order")
	}
	if returnOrder.BuyerUserID != actor.UserID && !actor.Roles.Has(enums.RoleAdmin) {
		return nil, pkgerrors.New(pkgerrors.CodeNotPermitted, "return order does not belong to the caller")
	}
	items, err := s.repo.FindReturnItems(ctx, returnOrder.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load return items")
	}
	return &ReturnDetail{ReturnOrder: *returnOrder, Items: items}, nil
}

func (s *service) ListReturnsByBuyer(ctx context.Context, actor Actor, params pagination.Params) ([]models.ReturnOrder, string, error) {
	if actor.UserID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListReturnsByBuyer(ctx, actor.UserID, cursor, limit)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "list return orders")
	}
	page, next := pagination.Page(rows, limit, func(row models.ReturnOrder) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return page, next, nil
}

func (s *service) loadReturn(ctx context.Context, repo Repository, returnOrderID uuid.UUID) (*models.ReturnOrder, *models.ShopOrder, error) {
	if returnOrderID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "return order id required")
	}
	returnOrder, err := repo.FindReturnOrder(ctx, returnOrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "return order not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load return order")
	}
	shopOrder, err := repo.FindShopOrder(ctx, returnOrder.ShopOrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop order not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop order")
	}
	return returnOrder, shopOrder, nil
}

// approveItemsTx moves each pending line to Approved, restores its stock and
// advances the order item. Stock restoration happens exactly once per line
// because the Pending predicate admits a single approval.
func (s *service) approveItemsTx(ctx context.Context, repo Repository, items []models.ReturnOrderItem) error {
	orderItemIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		orderItemIDs = append(orderItemIDs, item.OrderItemID)
	}
	orderItems, err := repo.FindOrderItems(ctx, orderItemIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order items")
	}
	orderItemByID := make(map[uuid.UUID]models.OrderItem, len(orderItems))
	for _, item := range orderItems {
		orderItemByID[item.ID] = item
	}

	for _, item := range items {
		rows, err := repo.ApproveReturnItem(ctx, item.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "approve return item")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "return item is not pending")
		}

		orderItem, ok := orderItemByID[item.OrderItemID]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		if _, err := repo.RestoreStock(ctx, orderItem.ItemID, item.Quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "restore stock")
		}
		if _, err := repo.SetOrderItemStatus(ctx, orderItem.ID,
			enums.OrderItemStatusReturnRequested, enums.OrderItemStatusReturnApproved); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "mark order item return approved")
		}
	}
	return nil
}

func (s *service) rejectItemsTx(ctx context.Context, repo Repository, items []models.ReturnOrderItem, reason string) error {
	for _, item := range items {
		rows, err := repo.RejectReturnItem(ctx, item.ID, reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "reject return item")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "return item is not pending")
		}
		if _, err := repo.SetOrderItemStatus(ctx, item.OrderItemID,
			enums.OrderItemStatusReturnRequested, enums.OrderItemStatusReturnRejected); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "mark order item return rejected")
		}
	}
	return nil
}

// settleReturnOrder derives the return order's status from its items. While
// any line is still pending the order stays Pending; otherwise any approved
// line makes it Approved with the amount narrowed to the approved lines, and
// an all-rejected set makes it Rejected.
func (s *service) settleReturnOrder(ctx context.Context, repo Repository, returnOrder *models.ReturnOrder) (*ReturnDetail, error) {
	items, err := repo.FindReturnItems(ctx, returnOrder.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load return items")
	}

	orderItemIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		orderItemIDs = append(orderItemIDs, item.OrderItemID)
	}
	orderItems, err := repo.FindOrderItems(ctx, orderItemIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order items")
	}
	unitPrice := make(map[uuid.UUID]int, len(orderItems))
	for _, item := range orderItems {
		unitPrice[item.ID] = item.UnitPriceCents
	}

	pending, approved := 0, 0
	approvedCents := 0
	for _, item := range items {
		switch item.Status {
		case enums.ReturnStatusPending:
			pending++
		case enums.ReturnStatusApproved:
			approved++
			approvedCents += item.Quantity * unitPrice[item.OrderItemID]
		}
	}

	status := returnOrder.Status
	amount := returnOrder.AmountCents
	if pending == 0 {
		if approved > 0 {
			status, amount = enums.ReturnStatusApproved, approvedCents
		} else {
			status, amount = enums.ReturnStatusRejected, 0
		}
	}
	if status != returnOrder.Status || amount != returnOrder.AmountCents {
		if err := repo.SetReturnOrderResolution(ctx, returnOrder.ID, status, amount); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "settle return order")
		}
		returnOrder.Status = status
		returnOrder.AmountCents = amount
	}

	return &ReturnDetail{ReturnOrder: *returnOrder, Items: items}, nil
}

func returnTrackingCode() string {
	return "RET-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

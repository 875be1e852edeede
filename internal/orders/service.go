package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/marketa-io/marketa-backend/internal/voucher"
	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
	pkgerrors "github.com/marketa-io/marketa-backend/pkg/errors"
	"github.com/marketa-io/marketa-backend/pkg/geo"
	"github.com/marketa-io/marketa-backend/pkg/logger"
	"github.com/marketa-io/marketa-backend/pkg/pagination"
)

// ReturnWindow is how long after delivery a shop order stays returnable and
// cannot yet be completed.
const ReturnWindow = 7 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service assembles orders from cart lines and drives every post-creation
// transition of the order, shop order and item state machines.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*OrderGraph, error)
	Confirm(ctx context.Context, shopOrderID uuid.UUID, actor Actor) error
	AdvanceShipping(ctx context.Context, shopOrderID uuid.UUID, actor Actor) error
	MarkDelivered(ctx context.Context, shopOrderID uuid.UUID, actor Actor) error
	Complete(ctx context.Context, orderID uuid.UUID, actor Actor) error
	CancelByBuyer(ctx context.Context, orderID uuid.UUID, actor Actor) error
	CancelByAdmin(ctx context.Context, orderID uuid.UUID, actor Actor) error
	CancelShopBySeller(ctx context.Context, shopOrderID uuid.UUID, actor Actor) error
	GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderGraph, error)
	ListOrdersByBuyer(ctx context.Context, actor Actor, params pagination.Params) ([]models.Order, string, error)
	ListShopOrdersBySeller(ctx context.Context, actor Actor, params pagination.Params) ([]models.ShopOrder, string, error)
	SweepCompletions(ctx context.Context, now time.Time) (SweepResult, error)
}

type service struct {
	repo         Repository
	tx           txRunner
	vouchers     voucher.Service
	logg         *logger.Logger
	validate     *validator.Validate
	shippingRate int
	now          func() time.Time
}

// NewService builds an order service with the required dependencies.
// shippingRate is the per-kilometer fee in cents.
func NewService(repo Repository, tx txRunner, vouchers voucher.Service, logg *logger.Logger, shippingRate int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if vouchers == nil {
		return nil, fmt.Errorf("voucher service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if shippingRate <= 0 {
		return nil, fmt.Errorf("shipping rate must be positive")
	}
	return &service{
		repo:         repo,
		tx:           tx,
		vouchers:     vouchers,
		logg:         logg,
		validate:     validator.New(),
		shippingRate: shippingRate,
		now:          time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*OrderGraph, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order input")
	}

	now := s.now()
	var graph *OrderGraph
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		buyer, err := repo.FindUser(ctx, input.Actor.UserID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load buyer")
		}

		lines, err := repo.FindCartItems(ctx, buyer.ID, input.CartItemIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load cart items")
		}
		if len(lines) != len(dedupe(input.CartItemIDs)) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}

		address, err := s.resolveAddress(ctx, repo, buyer, input)
		if err != nil {
			return err
		}

		itemIDs := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			itemIDs = append(itemIDs, line.ItemID)
		}
		items, err := repo.FindItems(ctx, itemIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load items")
		}
		itemByID := make(map[uuid.UUID]models.Item, len(items))
		for _, item := range items {
			itemByID[item.ID] = item
		}

		// Shop grouping is sorted so totals are invariant under cart line
		// reordering.
		linesByShop := make(map[uuid.UUID][]models.CartItem)
		shopIDs := make([]uuid.UUID, 0)
		for _, line := range lines {
			item, ok := itemByID[line.ItemID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
			}
			if _, seen := linesByShop[item.ShopID]; !seen {
				shopIDs = append(shopIDs, item.ShopID)
			}
			linesByShop[item.ShopID] = append(linesByShop[item.ShopID], line)
		}
		sort.Slice(shopIDs, func(i, j int) bool {
			return shopIDs[i].String() < shopIDs[j].String()
		})

		order := &models.Order{
			ID:          uuid.New(),
			BuyerUserID: buyer.ID,
			Status:      enums.OrderStatusPendingPayment,
			AddressName: address.Name,
			AddressLat:  address.Lat,
			AddressLng:  address.Lng,
		}
		dest := geo.Point{Lat: address.Lat, Lng: address.Lng}

		var details []ShopOrderDetail
		for _, shopID := range shopIDs {
			detail, err := s.assembleShopOrder(ctx, tx, repo, order, shopID, input, linesByShop[shopID], itemByID, dest, now)
			if err != nil {
				return err
			}
			details = append(details, *detail)
		}

		if input.ProductVoucherID != nil {
			v, discount, err := s.vouchers.Redeem(ctx, tx, *input.ProductVoucherID, order.SubtotalCents, now)
			if err != nil {
				return err
			}
			if v.Scope != enums.VoucherScopePlatform {
				return pkgerrors.New(pkgerrors.CodeValidation, "voucher is not an order-level product voucher")
			}
			order.ProductVoucherID = input.ProductVoucherID
			order.ProductDiscountCents += discount
		}
		if input.ShippingVoucherID != nil {
			v, discount, err := s.vouchers.Redeem(ctx, tx, *input.ShippingVoucherID, order.ShippingTotalCents, now)
			if err != nil {
				return err
			}
			if v.Scope != enums.VoucherScopeShipping {
				return pkgerrors.New(pkgerrors.CodeValidation, "voucher is not a shipping voucher")
			}
			order.ShippingVoucherID = input.ShippingVoucherID
			order.ShippingDiscountCents += discount
		}

		order.TotalCents = order.SubtotalCents + order.ShippingTotalCents -
			order.ProductDiscountCents - order.ShippingDiscountCents

		if err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "create order")
		}
		for i := range details {
			if err := repo.CreateShopOrder(ctx, &details[i].ShopOrder); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "create shop order")
			}
			if err := repo.CreateOrderItems(ctx, details[i].Items); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "create order items")
			}
		}

		history := &models.OrderHistory{
			OrderID:     order.ID,
			ToStatus:    enums.OrderStatusPendingPayment.String(),
			ActorUserID: buyer.ID,
			Note:        "Create order",
		}
		if err := repo.CreateOrderHistory(ctx, history); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record history")
		}

		if err := repo.DeleteCartItems(ctx, input.CartItemIDs); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "consume cart items")
		}

		graph = &OrderGraph{Order: *order, ShopOrders: details}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, graph.Order.ID.String()), "order created")
	return graph, nil
}

func (s *service) assembleShopOrder(
	ctx context.Context,
	tx *gorm.DB,
	repo Repository,
	order *models.Order,
	shopID uuid.UUID,
	input CreateOrderInput,
	lines []models.CartItem,
	itemByID map[uuid.UUID]models.Item,
	dest geo.Point,
	now time.Time,
) (*ShopOrderDetail, error) {
	shop, err := repo.FindShop(ctx, shopID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop")
	}
	shopAddress, err := repo.FindAddress(ctx, shop.AddressID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop address not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop address")
	}

	shopOrder := models.ShopOrder{
		ID:           uuid.New(),
		OrderID:      order.ID,
		ShopID:       shopID,
		Status:       enums.ShopOrderStatusPendingConfirmation,
		TrackingCode: trackingCode("SHP"),
	}

	var orderItems []models.OrderItem
	for _, line := range lines {
		item := itemByID[line.ItemID]
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart line quantity must be positive")
		}
		if item.Stock <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeOutOfStock, fmt.Sprintf("item %s is out of stock", item.Name))
		}
		if line.Quantity > item.Stock {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("item %s has %d left", item.Name, item.Stock))
		}

		affected, err := repo.DecrementStock(ctx, item.ID, line.Quantity, item.Version)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "reserve stock")
		}
		if affected == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "item stock was modified concurrently")
		}

		total := item.PriceCents * line.Quantity
		orderItems = append(orderItems, models.OrderItem{
			ID:             uuid.New(),
			ShopOrderID:    shopOrder.ID,
			ItemID:         item.ID,
			Name:           item.Name,
			UnitPriceCents: item.PriceCents,
			Quantity:       line.Quantity,
			TotalCents:     total,
			Status:         enums.OrderItemStatusPendingConfirmation,
		})
		shopOrder.SubtotalCents += total
	}

	if voucherID, ok := input.ShopVouchers[shopID]; ok {
		v, discount, err := s.vouchers.Redeem(ctx, tx, voucherID, shopOrder.SubtotalCents, now)
		if err != nil {
			return nil, err
		}
		if v.Scope != enums.VoucherScopeShop || v.ShopID == nil || *v.ShopID != shopID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher is not redeemable at this shop")
		}
		id := voucherID
		shopOrder.VoucherID = &id
		shopOrder.VoucherDiscountCents = discount
		order.ProductDiscountCents += discount
	}

	origin := geo.Point{Lat: shopAddress.Lat, Lng: shopAddress.Lng}
	shopOrder.ShippingFeeCents = geo.ShippingFeeCents(origin, dest, s.shippingRate)
	shopOrder.TotalCents = shopOrder.SubtotalCents - shopOrder.VoucherDiscountCents + shopOrder.ShippingFeeCents

	order.SubtotalCents += shopOrder.SubtotalCents
	order.ShippingTotalCents += shopOrder.ShippingFeeCents

	return &ShopOrderDetail{ShopOrder: shopOrder, Items: orderItems}, nil
}

func (s *service) resolveAddress(ctx context.Context, repo Repository, buyer *models.User, input CreateOrderInput) (*models.Address, error) {
	switch {
	case input.AddressID != nil:
		address, err := repo.FindAddress(ctx, *input.AddressID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load address")
		}
		if address.UserID == nil || *address.UserID != buyer.ID {
			return nil, pkgerrors.New(pkgerrors.CodeNotPermitted, "address does not belong to user")
		}
		return address, nil
	case input.NewAddress != nil:
		userID := buyer.ID
		address := &models.Address{
			ID:     uuid.New(),
			UserID: &userID,
			Name:   input.NewAddress.Name,
			Lat:    input.NewAddress.Lat,
			Lng:    input.NewAddress.Lng,
		}
		if err := repo.CreateAddress(ctx, address); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "create address")
		}
		return address, nil
	case buyer.DefaultAddressID != nil:
		address, err := repo.FindAddress(ctx, *buyer.DefaultAddressID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load default address")
		}
		return address, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
	}
}

func (s *service) Confirm(ctx context.Context, shopOrderID uuid.UUID, actor Actor) error {
	return s.advanceShopOrder(ctx, shopOrderID, actor,
		enums.ShopOrderStatusPendingConfirmation, enums.ShopOrderStatusProcessing, "Confirm shop order")
}

func (s *service) AdvanceShipping(ctx context.Context, shopOrderID uuid.UUID, actor Actor) error {
	if shopOrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop order id required")
	}
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		shopOrder, err := s.loadOwnedShopOrder(ctx, repo, shopOrderID, actor)
		if err != nil {
			return err
		}

		var from, to enums.ShopOrderStatus
		switch shopOrder.Status {
		case enums.ShopOrderStatusProcessing:
			from, to = enums.ShopOrderStatusProcessing, enums.ShopOrderStatusReadyToShip
		case enums.ShopOrderStatusReadyToShip:
			from, to = enums.ShopOrderStatusReadyToShip, enums.ShopOrderStatusShipped
		default:
			return pkgerrors.New(pkgerrors.CodeNotPermitted, "shop order cannot ship from its current state")
		}

		return s.applyShopTransition(ctx, repo, shopOrder, from, to, actor, "Advance shipping")
	})
}

func (s *service) MarkDelivered(ctx context.Context, shopOrderID uuid.UUID, actor Actor) error {
	if shopOrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop order id required")
	}
	if !actor.Roles.Has(enums.RoleAdmin) {
		return pkgerrors.New(pkgerrors.CodeNotPermitted, "admin role required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		shopOrder, err := repo.FindShopOrder(ctx, shopOrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shop order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop order")
		}
		if shopOrder.Status != enums.ShopOrderStatusShipped {
			return pkgerrors.New(pkgerrors.CodeNotPermitted, "shop order is not shipped")
		}

		now := s.now()
		affected, err := repo.MarkShopOrderDelivered(ctx, shopOrder.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "mark delivered")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "shop order was modified concurrently")
		}
		if err := repo.SetOrderItemStatusByShopOrder(ctx, shopOrder.ID,
			enums.OrderItemStatusShipped, enums.OrderItemStatusDelivered); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "propagate item status")
		}
		if err := s.recordShopHistory(ctx, repo, shopOrder,
			enums.ShopOrderStatusShipped, enums.ShopOrderStatusDelivered, actor, "Mark delivered"); err != nil {
			return err
		}

		siblings, err := repo.FindShopOrdersByOrder(ctx, shopOrder.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load sibling shop orders")
		}
		allDelivered := true
		for _, sibling := range siblings {
			if sibling.ID == shopOrder.ID {
				continue
			}
			if sibling.Status != enums.ShopOrderStatusDelivered && sibling.Status != enums.ShopOrderStatusCanceled {
				allDelivered = false
				break
			}
		}
		if allDelivered {
			affected, err := repo.UpdateOrderStatus(ctx, shopOrder.OrderID, enums.OrderStatusPaid, enums.OrderStatusDelivered)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "promote order")
			}
			if affected > 0 {
				history := &models.OrderHistory{
					OrderID:     shopOrder.OrderID,
					FromStatus:  enums.OrderStatusPaid.String(),
					ToStatus:    enums.OrderStatusDelivered.String(),
					ActorUserID: actor.UserID,
					Note:        "All shipments delivered",
				}
				if err := repo.CreateOrderHistory(ctx, history); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record history")
				}
			}
		}
		return nil
	})
}

func (s *service) Complete(ctx context.Context, orderID uuid.UUID, actor Actor) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !actor.Roles.Has(enums.RoleAdmin) {
		return pkgerrors.New(pkgerrors.CodeNotPermitted, "admin role required")
	}

	now := s.now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order")
		}
		if order.Status != enums.OrderStatusDelivered {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order is not delivered")
		}

		shopOrders, err := repo.FindShopOrdersByOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop orders")
		}
		for _, shopOrder := range shopOrders {
			if shopOrder.Status == enums.ShopOrderStatusCanceled || shopOrder.Status == enums.ShopOrderStatusCompleted {
				continue
			}
			if shopOrder.DeliveredAt == nil || now.Sub(*shopOrder.DeliveredAt) < ReturnWindow {
				return pkgerrors.New(pkgerrors.CodeReturnPeriodNotExpired, "return window is still open")
			}
		}

		for i := range shopOrders {
			shopOrder := shopOrders[i]
			if shopOrder.Status != enums.ShopOrderStatusDelivered {
				continue
			}
			affected, err := repo.UpdateShopOrderStatus(ctx, shopOrder.ID,
				enums.ShopOrderStatusDelivered, enums.ShopOrderStatusCompleted)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "complete shop order")
			}
			if affected == 0 {
				return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "shop order was modified concurrently")
			}
			if err := repo.SetOrderItemStatusByShopOrder(ctx, shopOrder.ID,
				enums.OrderItemStatusDelivered, enums.OrderItemStatusCompleted); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "propagate item status")
			}
			if err := s.recordShopHistory(ctx, repo, &shopOrder,
				enums.ShopOrderStatusDelivered, enums.ShopOrderStatusCompleted, actor, "Complete shop order"); err != nil {
				return err
			}
		}

		affected, err := repo.UpdateOrderStatus(ctx, order.ID, enums.OrderStatusDelivered, enums.OrderStatusCompleted)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "complete order")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "order was modified concurrently")
		}
		history := &models.OrderHistory{
			OrderID:     order.ID,
			FromStatus:  enums.OrderStatusDelivered.String(),
			ToStatus:    enums.OrderStatusCompleted.String(),
			ActorUserID: actor.UserID,
			Note:        "Complete order",
		}
		if err := repo.CreateOrderHistory(ctx, history); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record history")
		}
		return nil
	})
}

func (s *service) CancelByBuyer(ctx context.Context, orderID uuid.UUID, actor Actor) error {
	return s.cancelOrder(ctx, orderID, actor, false)
}

func (s *service) CancelByAdmin(ctx context.Context, orderID uuid.UUID, actor Actor) error {
	if !actor.Roles.Has(enums.RoleAdmin) {
		return pkgerrors.New(pkgerrors.CodeNotPermitted, "admin role required")
	}
	return s.cancelOrder(ctx, orderID, actor, true)
}

func (s *service) cancelOrder(ctx context.Context, orderID uuid.UUID, actor Actor, asAdmin bool) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order")
		}
		if !asAdmin && order.BuyerUserID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeNotPermitted, "order does not belong to user")
		}
		if asAdmin {
			if order.Status != enums.OrderStatusPendingPayment && order.Status != enums.OrderStatusPaid {
				return pkgerrors.New(pkgerrors.CodeInvalidState, "order can no longer be cancelled")
			}
		} else if order.Status != enums.OrderStatusPendingPayment {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order can no longer be cancelled")
		}

		shopOrders, err := repo.FindShopOrdersByOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop orders")
		}
		for i := range shopOrders {
			shopOrder := shopOrders[i]
			if shopOrder.Status == enums.ShopOrderStatusCanceled {
				continue
			}
			if err := s.cancelShopOrderTx(ctx, tx, repo, &shopOrder, actor); err != nil {
				return err
			}
		}

		affected, err := repo.UpdateOrderStatus(ctx, order.ID, order.Status, enums.OrderStatusCanceled)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "cancel order")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "order was modified concurrently")
		}

		if err := s.restoreOrderVouchers(ctx, tx, order); err != nil {
			return err
		}

		history := &models.OrderHistory{
			OrderID:     order.ID,
			FromStatus:  order.Status.String(),
			ToStatus:    enums.OrderStatusCanceled.String(),
			ActorUserID: actor.UserID,
			Note:        "Cancel order",
		}
		if err := repo.CreateOrderHistory(ctx, history); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record history")
		}
		return nil
	})
}

func (s *service) CancelShopBySeller(ctx context.Context, shopOrderID uuid.UUID, actor Actor) error {
	if shopOrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop order id required")
	}
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		shopOrder, err := s.loadOwnedShopOrder(ctx, repo, shopOrderID, actor)
		if err != nil {
			return err
		}
		if shopOrder.Status != enums.ShopOrderStatusPendingConfirmation &&
			shopOrder.Status != enums.ShopOrderStatusProcessing {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "shop order can no longer be cancelled")
		}

		order, err := repo.FindOrder(ctx, shopOrder.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order")
		}

		if err := s.cancelShopOrderTx(ctx, tx, repo, shopOrder, actor); err != nil {
			return err
		}

		// Seller-initiated cancellation reverses the buyer-seller balance
		// delta posted for these items.
		if _, err := repo.AdjustBalance(ctx, actor.UserID, -shopOrder.SubtotalCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "debit seller")
		}
		if _, err := repo.AdjustBalance(ctx, order.BuyerUserID, shopOrder.SubtotalCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "credit buyer")
		}

		siblings, err := repo.FindShopOrdersByOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load sibling shop orders")
		}
		allCanceled := true
		for _, sibling := range siblings {
			if sibling.ID == shopOrder.ID {
				continue
			}
			if sibling.Status != enums.ShopOrderStatusCanceled {
				allCanceled = false
				break
			}
		}
		if allCanceled {
			affected, err := repo.UpdateOrderStatus(ctx, order.ID, order.Status, enums.OrderStatusCanceled)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "cancel order")
			}
			if affected > 0 {
				if err := s.restoreOrderVouchers(ctx, tx, order); err != nil {
					return err
				}
				history := &models.OrderHistory{
					OrderID:     order.ID,
					FromStatus:  order.Status.String(),
					ToStatus:    enums.OrderStatusCanceled.String(),
					ActorUserID: actor.UserID,
					Note:        "All shop orders cancelled",
				}
				if err := repo.CreateOrderHistory(ctx, history); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record history")
				}
			}
		}
		return nil
	})
}

// cancelShopOrderTx cancels one shop order, restoring stock and any shop
// voucher it consumed. Runs inside the caller's transaction.
func (s *service) cancelShopOrderTx(ctx context.Context, tx *gorm.DB, repo Repository, shopOrder *models.ShopOrder, actor Actor) error {
	if !shopOrder.Status.Cancelable() {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "shop order can no longer be cancelled")
	}

	affected, err := repo.UpdateShopOrderStatus(ctx, shopOrder.ID, shopOrder.Status, enums.ShopOrderStatusCanceled)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "cancel shop order")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "shop order was modified concurrently")
	}

	items, err := repo.FindOrderItemsByShopOrder(ctx, shopOrder.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order items")
	}
	for _, item := range items {
		if item.Status == enums.OrderItemStatusCanceled {
			continue
		}
		if _, err := repo.RestoreStock(ctx, item.ItemID, item.Quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "restore stock")
		}
	}
	itemStatus, err := enums.ItemStatusForShopStatus(shopOrder.Status)
	if err == nil {
		if err := repo.SetOrderItemStatusByShopOrder(ctx, shopOrder.ID, itemStatus, enums.OrderItemStatusCanceled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "propagate item status")
		}
	}

	if shopOrder.VoucherID != nil {
		if err := s.vouchers.Restore(ctx, tx, *shopOrder.VoucherID); err != nil {
			return err
		}
	}

	return s.recordShopHistory(ctx, repo, shopOrder, shopOrder.Status, enums.ShopOrderStatusCanceled, actor, "Cancel shop order")
}

func (s *service) restoreOrderVouchers(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.ProductVoucherID != nil {
		if err := s.vouchers.Restore(ctx, tx, *order.ProductVoucherID); err != nil {
			return err
		}
	}
	if order.ShippingVoucherID != nil {
		if err := s.vouchers.Restore(ctx, tx, *order.ShippingVoucherID); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderGraph, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order")
	}
	if order.BuyerUserID != actor.UserID && !actor.Roles.Has(enums.RoleAdmin) {
		return nil, pkgerrors.New(pkgerrors.CodeNotPermitted, "order does not belong to user")
	}

	shopOrders, err := s.repo.FindShopOrdersByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop orders")
	}
	graph := &OrderGraph{Order: *order}
	for _, shopOrder := range shopOrders {
		items, err := s.repo.FindOrderItemsByShopOrder(ctx, shopOrder.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order items")
		}
		graph.ShopOrders = append(graph.ShopOrders, ShopOrderDetail{ShopOrder: shopOrder, Items: items})
	}
	return graph, nil
}

func (s *service) ListOrdersByBuyer(ctx context.Context, actor Actor, params pagination.Params) ([]models.Order, string, error) {
	if actor.UserID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	orders, err := s.repo.ListOrdersByBuyer(ctx, actor.UserID, cursor, params.Limit)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "list orders")
	}
	page, next := pagination.Page(orders, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return page, next, nil
}

func (s *service) ListShopOrdersBySeller(ctx context.Context, actor Actor, params pagination.Params) ([]models.ShopOrder, string, error) {
	if actor.UserID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actor.Roles.Has(enums.RoleSeller) {
		return nil, "", pkgerrors.New(pkgerrors.CodeNotPermitted, "seller role required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	shopOrders, err := s.repo.ListShopOrdersBySeller(ctx, actor.UserID, cursor, params.Limit)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "list shop orders")
	}
	page, next := pagination.Page(shopOrders, params.Limit, func(so models.ShopOrder) pagination.Cursor {
		return pagination.Cursor{CreatedAt: so.CreatedAt, ID: so.ID}
	})
	return page, next, nil
}

// SweepCompletions promotes delivered shop orders whose return window has
// elapsed. Each row runs in its own transaction; a lost race skips the row
// and the next cycle picks it up.
func (s *service) SweepCompletions(ctx context.Context, now time.Time) (SweepResult, error) {
	candidates, err := s.repo.ListCompletableShopOrders(ctx, now.Add(-ReturnWindow), 0)
	if err != nil {
		return SweepResult{}, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "list completable shop orders")
	}

	var result SweepResult
	var errs error
	for _, candidate := range candidates {
		shopOrder := candidate
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			affected, err := repo.UpdateShopOrderStatus(ctx, shopOrder.ID,
				enums.ShopOrderStatusDelivered, enums.ShopOrderStatusCompleted)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "complete shop order")
			}
			if affected == 0 {
				// lost the race; another writer moved the row
				return nil
			}
			result.ShopOrdersCompleted++

			if err := repo.SetOrderItemStatusByShopOrder(ctx, shopOrder.ID,
				enums.OrderItemStatusDelivered, enums.OrderItemStatusCompleted); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "propagate item status")
			}
			history := &models.OrderHistory{
				OrderID:     shopOrder.OrderID,
				ShopOrderID: &shopOrder.ID,
				FromStatus:  enums.ShopOrderStatusDelivered.String(),
				ToStatus:    enums.ShopOrderStatusCompleted.String(),
				Note:        "Auto-complete after return window",
			}
			if err := repo.CreateOrderHistory(ctx, history); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record history")
			}

			siblings, err := repo.FindShopOrdersByOrder(ctx, shopOrder.OrderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load sibling shop orders")
			}
			for _, sibling := range siblings {
				if sibling.Status != enums.ShopOrderStatusCompleted && sibling.Status != enums.ShopOrderStatusCanceled {
					return nil
				}
			}
			affected, err = repo.UpdateOrderStatus(ctx, shopOrder.OrderID,
				enums.OrderStatusDelivered, enums.OrderStatusCompleted)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "complete order")
			}
			if affected > 0 {
				result.OrdersCompleted++
				history := &models.OrderHistory{
					OrderID:    shopOrder.OrderID,
					FromStatus: enums.OrderStatusDelivered.String(),
					ToStatus:   enums.OrderStatusCompleted.String(),
					Note:       "Auto-complete after return window",
				}
				if err := repo.CreateOrderHistory(ctx, history); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record history")
				}
			}
			return nil
		})
		if err != nil {
			s.logg.Error(s.logg.WithShopID(ctx, shopOrder.ID.String()), "completion sweep failed for shop order", err)
			errs = multierr.Append(errs, err)
		}
	}
	return result, errs
}

func (s *service) advanceShopOrder(ctx context.Context, shopOrderID uuid.UUID, actor Actor, from, to enums.ShopOrderStatus, note string) error {
	if shopOrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop order id required")
	}
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		shopOrder, err := s.loadOwnedShopOrder(ctx, repo, shopOrderID, actor)
		if err != nil {
			return err
		}
		if shopOrder.Status != from {
			return pkgerrors.New(pkgerrors.CodeNotPermitted, "shop order is not in the required state")
		}
		return s.applyShopTransition(ctx, repo, shopOrder, from, to, actor, note)
	})
}

// applyShopTransition performs a conditional status move and propagates the
// mirrored item status and a history row with it.
func (s *service) applyShopTransition(ctx context.Context, repo Repository, shopOrder *models.ShopOrder, from, to enums.ShopOrderStatus, actor Actor, note string) error {
	affected, err := repo.UpdateShopOrderStatus(ctx, shopOrder.ID, from, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "update shop order status")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "shop order was modified concurrently")
	}

	fromItem, err := enums.ItemStatusForShopStatus(from)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "map item status")
	}
	toItem, err := enums.ItemStatusForShopStatus(to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "map item status")
	}
	if err := repo.SetOrderItemStatusByShopOrder(ctx, shopOrder.ID, fromItem, toItem); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "propagate item status")
	}
	return s.recordShopHistory(ctx, repo, shopOrder, from, to, actor, note)
}

func (s *service) loadOwnedShopOrder(ctx context.Context, repo Repository, shopOrderID uuid.UUID, actor Actor) (*models.ShopOrder, error) {
	shopOrder, err := repo.FindShopOrder(ctx, shopOrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop order")
	}
	shop, err := repo.FindShop(ctx, shopOrder.ShopID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop")
	}
	if shop.OwnerUserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotPermitted, "shop order does not belong to seller")
	}
	return shopOrder, nil
}

func (s *service) recordShopHistory(ctx context.Context, repo Repository, shopOrder *models.ShopOrder, from, to enums.ShopOrderStatus, actor Actor, note string) error {
	history := &models.OrderHistory{
		OrderID:     shopOrder.OrderID,
		ShopOrderID: &shopOrder.ID,
		FromStatus:  from.String(),
		ToStatus:    to.String(),
		ActorUserID: actor.UserID,
		Note:        note,
	}
	if err := repo.CreateOrderHistory(ctx, history); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record history")
	}
	return nil
}

func trackingCode(prefix string) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

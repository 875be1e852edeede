package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	baserepo "github.com/marketa-io/marketa-backend/internal/repo"
	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
	"github.com/marketa-io/marketa-backend/pkg/pagination"
)

// Repository manages persistence for the order graph and the catalog rows
// order assembly reserves against.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	FindAddress(ctx context.Context, id uuid.UUID) (*models.Address, error)
	CreateAddress(ctx context.Context, address *models.Address) error

	FindCartItems(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.CartItem, error)
	DeleteCartItems(ctx context.Context, ids []uuid.UUID) error

	FindItems(ctx context.Context, ids []uuid.UUID) ([]models.Item, error)
	// DecrementStock reserves quantity against the version the caller read;
	// zero rows affected means a concurrent writer won the row.
	DecrementStock(ctx context.Context, itemID uuid.UUID, quantity int, version int64) (int64, error)
	// RestoreStock returns quantity without a version predicate. Compensating
	// moves must not fail on races.
	RestoreStock(ctx context.Context, itemID uuid.UUID, quantity int) (int64, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateShopOrder(ctx context.Context, shopOrder *models.ShopOrder) error
	CreateOrderItems(ctx context.Context, items []models.OrderItem) error
	CreateOrderHistory(ctx context.Context, history *models.OrderHistory) error

	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindShopOrder(ctx context.Context, id uuid.UUID) (*models.ShopOrder, error)
	FindShopOrdersByOrder(ctx context.Context, orderID uuid.UUID) ([]models.ShopOrder, error)
	FindOrderItemsByShopOrder(ctx context.Context, shopOrderID uuid.UUID) ([]models.OrderItem, error)

	ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error)
	ListShopOrdersBySeller(ctx context.Context, sellerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.ShopOrder, error)

	// Status moves carry the expected current status in the predicate so a
	// lost race affects zero rows instead of clobbering a newer state.
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) (int64, error)
	UpdateShopOrderStatus(ctx context.Context, shopOrderID uuid.UUID, from, to enums.ShopOrderStatus) (int64, error)
	MarkShopOrderDelivered(ctx context.Context, shopOrderID uuid.UUID, deliveredAt time.Time) (int64, error)
	SetOrderItemStatusByShopOrder(ctx context.Context, shopOrderID uuid.UUID, from, to enums.OrderItemStatus) error

	AdjustBalance(ctx context.Context, userID uuid.UUID, deltaCents int) (int64, error)

	ListCompletableShopOrders(ctx context.Context, deliveredBefore time.Time, limit int) ([]models.ShopOrder, error)
}

type repository struct {
	base baserepo.Base
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: baserepo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: baserepo.NewBase(tx)}
}

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.base.DB(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.base.DB(ctx).First(&shop, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *repository) FindAddress(ctx context.Context, id uuid.UUID) (*models.Address, error) {
	var address models.Address
	if err := r.base.DB(ctx).First(&address, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &address, nil
}

func (r *repository) CreateAddress(ctx context.Context, address *models.Address) error {
	baserepo.EnsureID(&address.ID)
	return r.base.DB(ctx).Create(address).Error
}

func (r *repository) FindCartItems(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.CartItem, error) {
	var lines []models.CartItem
	err := r.base.DB(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repository) DeleteCartItems(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.base.DB(ctx).Delete(&models.CartItem{}, "id IN ?", ids).Error
}

func (r *repository) FindItems(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
	var items []models.Item
	if err := r.base.DB(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) DecrementStock(ctx context.Context, itemID uuid.UUID, quantity int, version int64) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE items
		SET stock = stock - ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ? AND stock >= ?
	`, quantity, itemID, version, quantity)
	return res.RowsAffected, res.Error
}

func (r *repository) RestoreStock(ctx context.Context, itemID uuid.UUID, quantity int) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE items
		SET stock = stock + ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, quantity, itemID)
	return res.RowsAffected, res.Error
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	baserepo.EnsureID(&order.ID)
	return r.base.DB(ctx).Create(order).Error
}

func (r *repository) CreateShopOrder(ctx context.Context, shopOrder *models.ShopOrder) error {
	baserepo.EnsureID(&shopOrder.ID)
	return r.base.DB(ctx).Create(shopOrder).Error
}

func (r *repository) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		baserepo.EnsureID(&items[i].ID)
	}
	return r.base.DB(ctx).Create(&items).Error
}

func (r *repository) CreateOrderHistory(ctx context.Context, history *models.OrderHistory) error {
	baserepo.EnsureID(&history.ID)
	return r.base.DB(ctx).Create(history).Error
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.base.DB(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindShopOrder(ctx context.Context, id uuid.UUID) (*models.ShopOrder, error) {
	var shopOrder models.ShopOrder
	if err := r.base.DB(ctx).First(&shopOrder, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shopOrder, nil
}

func (r *repository) FindShopOrdersByOrder(ctx context.Context, orderID uuid.UUID) ([]models.ShopOrder, error) {
	var shopOrders []models.ShopOrder
	err := r.base.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&shopOrders).Error
	if err != nil {
		return nil, err
	}
	return shopOrders, nil
}

func (r *repository) FindOrderItemsByShopOrder(ctx context.Context, shopOrderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.base.DB(ctx).
		Where("shop_order_id = ?", shopOrderID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.base.DB(ctx).
		Where("buyer_user_id = ?", buyerID).
		Scopes(pagination.Scope(cursor, limit)).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ListShopOrdersBySeller(ctx context.Context, sellerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.ShopOrder, error) {
	var shopOrders []models.ShopOrder
	err := r.base.DB(ctx).
		Joins("JOIN shops ON shops.id = shop_orders.shop_id").
		Where("shops.owner_user_id = ?", sellerID).
		Scopes(pagination.Scope(cursor, limit)).
		Find(&shopOrders).Error
	if err != nil {
		return nil, err
	}
	return shopOrders, nil
}

func (r *repository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE orders
		SET status = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, to, orderID, from)
	return res.RowsAffected, res.Error
}

func (r *repository) UpdateShopOrderStatus(ctx context.Context, shopOrderID uuid.UUID, from, to enums.ShopOrderStatus) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE shop_orders
		SET status = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, to, shopOrderID, from)
	return res.RowsAffected, res.Error
}

func (r *repository) MarkShopOrderDelivered(ctx context.Context, shopOrderID uuid.UUID, deliveredAt time.Time) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE shop_orders
		SET status = ?,
			delivered_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, enums.ShopOrderStatusDelivered, deliveredAt, shopOrderID, enums.ShopOrderStatusShipped)
	return res.RowsAffected, res.Error
}

func (r *repository) SetOrderItemStatusByShopOrder(ctx context.Context, shopOrderID uuid.UUID, from, to enums.OrderItemStatus) error {
	return r.base.DB(ctx).Exec(`
		UPDATE order_items
		SET status = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE shop_order_id = ? AND status = ?
	`, to, shopOrderID, from).Error
}

func (r *repository) AdjustBalance(ctx context.Context, userID uuid.UUID, deltaCents int) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE users
		SET balance_cents = balance_cents + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, deltaCents, userID)
	return res.RowsAffected, res.Error
}

func (r *repository) ListCompletableShopOrders(ctx context.Context, deliveredBefore time.Time, limit int) ([]models.ShopOrder, error) {
	var shopOrders []models.ShopOrder
	q := r.base.DB(ctx).
		Where("status = ? AND delivered_at IS NOT NULL AND delivered_at <= ?",
			enums.ShopOrderStatusDelivered, deliveredBefore).
		Order("delivered_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&shopOrders).Error; err != nil {
		return nil, err
	}
	return shopOrders, nil
}

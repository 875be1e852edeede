package returns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	baserepo "github.com/marketa-io/marketa-backend/internal/repo"
	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
	"github.com/marketa-io/marketa-backend/pkg/pagination"
)

// Repository manages persistence for return orders and the rows the return
// flow reads and compensates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindShopOrder(ctx context.Context, id uuid.UUID) (*models.ShopOrder, error)
	FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	FindOrderItems(ctx context.Context, ids []uuid.UUID) ([]models.OrderItem, error)

	CreateReturnOrder(ctx context.Context, returnOrder *models.ReturnOrder) error
	CreateReturnItems(ctx context.Context, items []models.ReturnOrderItem) error

	FindReturnOrder(ctx context.Context, id uuid.UUID) (*models.ReturnOrder, error)
	FindReturnItems(ctx context.Context, returnOrderID uuid.UUID) ([]models.ReturnOrderItem, error)
	FindReturnItemsByIDs(ctx context.Context, returnOrderID uuid.UUID, ids []uuid.UUID) ([]models.ReturnOrderItem, error)
	ListReturnsByBuyer(ctx context.Context, buyerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.ReturnOrder, error)

	// Item decisions carry the Pending predicate so a second decision on the
	// same line affects zero rows.
	ApproveReturnItem(ctx context.Context, id uuid.UUID) (int64, error)
	RejectReturnItem(ctx context.Context, id uuid.UUID, reason string) (int64, error)

	// SetReturnOrderResolution records the status derived from the item
	// decisions along with the refundable amount.
	SetReturnOrderResolution(ctx context.Context, id uuid.UUID, status enums.ReturnStatus, amountCents int) error

	SetOrderItemStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderItemStatus) (int64, error)
	RestoreStock(ctx context.Context, itemID uuid.UUID, quantity int) (int64, error)

	CreateOrderHistory(ctx context.Context, history *models.OrderHistory) error
}

type repository struct {
	base baserepo.Base
}

// NewRepository returns a returns repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: baserepo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: baserepo.NewBase(tx)}
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

func (r *repository) FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.base.DB(ctx).First(&shop, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *repository) FindOrderItems(ctx context.Context, ids []uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := r.base.DB(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) CreateReturnOrder(ctx context.Context, returnOrder *models.ReturnOrder) error {
	baserepo.EnsureID(&returnOrder.ID)
	return r.base.DB(ctx).Create(returnOrder).Error
}

func (r *repository) CreateReturnItems(ctx context.Context, items []models.ReturnOrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		baserepo.EnsureID(&items[i].ID)
	}
	return r.base.DB(ctx).Create(&items).Error
}

func (r *repository) FindReturnOrder(ctx context.Context, id uuid.UUID) (*models.ReturnOrder, error) {
	var returnOrder models.ReturnOrder
	if err := r.base.DB(ctx).First(&returnOrder, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &returnOrder, nil
}

func (r *repository) FindReturnItems(ctx context.Context, returnOrderID uuid.UUID) ([]models.ReturnOrderItem, error) {
	var items []models.ReturnOrderItem
	err := r.base.DB(ctx).
		Where("return_order_id = ?", returnOrderID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) FindReturnItemsByIDs(ctx context.Context, returnOrderID uuid.UUID, ids []uuid.UUID) ([]models.ReturnOrderItem, error) {
	var items []models.ReturnOrderItem
	err := r.base.DB(ctx).
		Where("return_order_id = ? AND id IN ?", returnOrderID, ids).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListReturnsByBuyer(ctx context.Context, buyerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.ReturnOrder, error) {
	var returnOrders []models.ReturnOrder
	err := r.base.DB(ctx).
		Where("buyer_user_id = ?", buyerID).
		Scopes(pagination.Scope(cursor, limit)).
		Find(&returnOrders).Error
	if err != nil {
		return nil, err
	}
	return returnOrders, nil
}

func (r *repository) ApproveReturnItem(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE return_order_items
		SET status = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, enums.ReturnStatusApproved, id, enums.ReturnStatusPending)
	return res.RowsAffected, res.Error
}

func (r *repository) RejectReturnItem(ctx context.Context, id uuid.UUID, reason string) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE return_order_items
		SET status = ?,
			reject_reason = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, enums.ReturnStatusRejected, reason, id, enums.ReturnStatusPending)
	return res.RowsAffected, res.Error
}

func (r *repository) SetReturnOrderResolution(ctx context.Context, id uuid.UUID, status enums.ReturnStatus, amountCents int) error {
	return r.base.DB(ctx).Exec(`
		UPDATE return_orders
		SET status = ?,
			amount_cents = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, amountCents, id).Error
}

func (r *repository) SetOrderItemStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderItemStatus) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE order_items
		SET status = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, to, id, from)
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

func (r *repository) CreateOrderHistory(ctx context.Context, history *models.OrderHistory) error {
	baserepo.EnsureID(&history.ID)
	return r.base.DB(ctx).Create(history).Error
}

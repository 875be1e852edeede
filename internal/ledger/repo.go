package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	baserepo "github.com/marketa-io/marketa-backend/internal/repo"
	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
	"github.com/marketa-io/marketa-backend/pkg/pagination"
)

// Repository manages persistence for balance movements and their ledger
// entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	ListTransactionsByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Transaction, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindShopOrder(ctx context.Context, id uuid.UUID) (*models.ShopOrder, error)
	FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	FindReturnOrder(ctx context.Context, id uuid.UUID) (*models.ReturnOrder, error)
	// CreditBalance adds to a user's balance unconditionally.
	CreditBalance(ctx context.Context, userID uuid.UUID, amountCents int) (int64, error)
	// DebitBalanceIfSufficient subtracts only when the stored balance covers
	// the amount; zero rows affected means the balance fell short.
	DebitBalanceIfSufficient(ctx context.Context, userID uuid.UUID, amountCents int) (int64, error)
	// DebitBalance subtracts without a sufficiency predicate. The escrow
	// wallet is allowed to go negative.
	DebitBalance(ctx context.Context, userID uuid.UUID, amountCents int) (int64, error)
	MarkOrderPaid(ctx context.Context, orderID uuid.UUID) (int64, error)
	MarkReturnCompleted(ctx context.Context, returnOrderID uuid.UUID) (int64, error)
	CreateOrderHistory(ctx context.Context, history *models.OrderHistory) error
}

type repository struct {
	base baserepo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: baserepo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: baserepo.NewBase(tx)}
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	baserepo.EnsureID(&txn.ID)
	return r.base.DB(ctx).Create(txn).Error
}

func (r *repository) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.base.DB(ctx).
		Where("from_user_id = ? OR to_user_id = ?", userID, userID).
		Scopes(pagination.Scope(cursor, limit)).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.base.DB(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
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

func (r *repository) FindReturnOrder(ctx context.Context, id uuid.UUID) (*models.ReturnOrder, error) {
	var returnOrder models.ReturnOrder
	if err := r.base.DB(ctx).First(&returnOrder, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &returnOrder, nil
}

func (r *repository) CreditBalance(ctx context.Context, userID uuid.UUID, amountCents int) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE users
		SET balance_cents = balance_cents + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, amountCents, userID)
	return res.RowsAffected, res.Error
}

func (r *repository) DebitBalanceIfSufficient(ctx context.Context, userID uuid.UUID, amountCents int) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE users
		SET balance_cents = balance_cents - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND balance_cents >= ?
	`, amountCents, userID, amountCents)
	return res.RowsAffected, res.Error
}

func (r *repository) DebitBalance(ctx context.Context, userID uuid.UUID, amountCents int) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE users
		SET balance_cents = balance_cents - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, amountCents, userID)
	return res.RowsAffected, res.Error
}

func (r *repository) MarkOrderPaid(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE orders
		SET status = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, enums.OrderStatusPaid, orderID, enums.OrderStatusPendingPayment)
	return res.RowsAffected, res.Error
}

func (r *repository) MarkReturnCompleted(ctx context.Context, returnOrderID uuid.UUID) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE return_orders
		SET status = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, enums.ReturnStatusCompleted, returnOrderID, enums.ReturnStatusApproved)
	return res.RowsAffected, res.Error
}

func (r *repository) CreateOrderHistory(ctx context.Context, history *models.OrderHistory) error {
	baserepo.EnsureID(&history.ID)
	return r.base.DB(ctx).Create(history).Error
}

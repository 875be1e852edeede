package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
	pkgerrors "github.com/marketa-io/marketa-backend/pkg/errors"
	"github.com/marketa-io/marketa-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service moves money between buyers, sellers and the platform escrow
// wallet. Every successful operation commits exactly one Transaction row.
type Service interface {
	Deposit(ctx context.Context, input DepositInput) (*models.Transaction, error)
	Payment(ctx context.Context, input PaymentInput) (*models.Transaction, error)
	PayOut(ctx context.Context, input PayOutInput) (*models.Transaction, error)
	Refund(ctx context.Context, input RefundInput) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error)
}

type service struct {
	repo           Repository
	tx             txRunner
	platformWallet uuid.UUID
}

// DepositInput credits a user's wallet.
type DepositInput struct {
	UserID      uuid.UUID
	AmountCents int
}

// PaymentInput settles a pending order from the buyer's balance.
type PaymentInput struct {
	OrderID     uuid.UUID
	BuyerUserID uuid.UUID
	AmountCents int
}

// PayOutInput releases escrowed funds for a completed shop order.
type PayOutInput struct {
	ShopOrderID  uuid.UUID
	SellerUserID uuid.UUID
	AmountCents  int
}

// RefundInput returns escrowed funds to the buyer of an approved return.
type RefundInput struct {
	ReturnOrderID uuid.UUID
	BuyerUserID   uuid.UUID
	AmountCents   int
}

// NewService wires a ledger service. The platform wallet is the escrow
// account that intermediates every payment, payout and refund.
func NewService(repo Repository, tx txRunner, platformWallet uuid.UUID) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if platformWallet == uuid.Nil {
		return nil, fmt.Errorf("platform wallet id required")
	}
	return &service{repo: repo, tx: tx, platformWallet: platformWallet}, nil
}

func (s *service) Deposit(ctx context.Context, input DepositInput) (*models.Transaction, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deposit amount must be positive")
	}

	var txn *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindUser(ctx, input.UserID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load user")
		}
		if _, err := repo.CreditBalance(ctx, input.UserID, input.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "credit balance")
		}

		userID := input.UserID
		txn = &models.Transaction{
			Type:        enums.TransactionTypeDeposit,
			Status:      enums.TransactionStatusCompleted,
			AmountCents: input.AmountCents,
			ToUserID:    &userID,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record deposit")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) Payment(ctx context.Context, input PaymentInput) (*models.Transaction, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.BuyerUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var txn *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load order")
		}
		if order.BuyerUserID != input.BuyerUserID {
			return pkgerrors.New(pkgerrors.CodeNotPermitted, "order does not belong to user")
		}
		if order.Status != enums.OrderStatusPendingPayment {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order is not awaiting payment")
		}
		if input.AmountCents != order.TotalCents {
			return pkgerrors.New(pkgerrors.CodeAmountMismatch, "amount does not match order total")
		}

		if _, err := repo.FindUser(ctx, input.BuyerUserID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load buyer")
		}
		if _, err := repo.FindUser(ctx, s.platformWallet); err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "platform wallet not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load platform wallet")
		}

		affected, err := repo.DebitBalanceIfSufficient(ctx, input.BuyerUserID, input.AmountCents)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "debit buyer")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeBalanceNotEnough, "balance does not cover the order total")
		}
		if _, err := repo.CreditBalance(ctx, s.platformWallet, input.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "credit platform wallet")
		}

		affected, err = repo.MarkOrderPaid(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "mark order paid")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "order was modified concurrently")
		}

		buyerID := input.BuyerUserID
		platformID := s.platformWallet
		orderID := order.ID
		txn = &models.Transaction{
			Type:        enums.TransactionTypePayment,
			Status:      enums.TransactionStatusCompleted,
			AmountCents: input.AmountCents,
			FromUserID:  &buyerID,
			ToUserID:    &platformID,
			OrderID:     &orderID,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record payment")
		}

		history := &models.OrderHistory{
			OrderID:     order.ID,
			FromStatus:  enums.OrderStatusPendingPayment.String(),
			ToStatus:    enums.OrderStatusPaid.String(),
			ActorUserID: input.BuyerUserID,
			Note:        "Payment received",
		}
		if err := repo.CreateOrderHistory(ctx, history); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) PayOut(ctx context.Context, input PayOutInput) (*models.Transaction, error) {
	if input.ShopOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop order id required")
	}
	if input.SellerUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var txn *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		shopOrder, err := repo.FindShopOrder(ctx, input.ShopOrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shop order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop order")
		}
		shop, err := repo.FindShop(ctx, shopOrder.ShopID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load shop")
		}
		if shop.OwnerUserID != input.SellerUserID {
			return pkgerrors.New(pkgerrors.CodeNotPermitted, "shop order does not belong to seller")
		}
		if shopOrder.Status != enums.ShopOrderStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "shop order is not completed")
		}
		if input.AmountCents != shopOrder.TotalCents {
			return pkgerrors.New(pkgerrors.CodeAmountMismatch, "amount does not match shop order total")
		}
		if _, err := repo.FindUser(ctx, s.platformWallet); err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "platform wallet not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load platform wallet")
		}

		// Escrow is never sufficiency-checked; payouts may drive it negative.
		if _, err := repo.DebitBalance(ctx, s.platformWallet, input.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "debit platform wallet")
		}
		if _, err := repo.CreditBalance(ctx, input.SellerUserID, input.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "credit seller")
		}

		sellerID := input.SellerUserID
		platformID := s.platformWallet
		orderID := shopOrder.OrderID
		shopOrderID := shopOrder.ID
		txn = &models.Transaction{
			Type:        enums.TransactionTypePayout,
			Status:      enums.TransactionStatusCompleted,
			AmountCents: input.AmountCents,
			FromUserID:  &platformID,
			ToUserID:    &sellerID,
			OrderID:     &orderID,
			ShopOrderID: &shopOrderID,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record payout")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) Refund(ctx context.Context, input RefundInput) (*models.Transaction, error) {
	if input.ReturnOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return order id required")
	}
	if input.BuyerUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var txn *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		returnOrder, err := repo.FindReturnOrder(ctx, input.ReturnOrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "return order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load return order")
		}
		if returnOrder.BuyerUserID != input.BuyerUserID {
			return pkgerrors.New(pkgerrors.CodeNotPermitted, "return order does not belong to user")
		}
		if returnOrder.Status != enums.ReturnStatusApproved {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "return order is not approved")
		}
		if input.AmountCents != returnOrder.AmountCents {
			return pkgerrors.New(pkgerrors.CodeAmountMismatch, "amount does not match return order amount")
		}
		if _, err := repo.FindUser(ctx, s.platformWallet); err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "platform wallet not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load platform wallet")
		}

		if _, err := repo.DebitBalance(ctx, s.platformWallet, input.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "debit platform wallet")
		}
		if _, err := repo.CreditBalance(ctx, input.BuyerUserID, input.AmountCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "credit buyer")
		}

		affected, err := repo.MarkReturnCompleted(ctx, returnOrder.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "complete return order")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "return order was modified concurrently")
		}

		buyerID := input.BuyerUserID
		platformID := s.platformWallet
		orderID := returnOrder.OrderID
		returnOrderID := returnOrder.ID
		txn = &models.Transaction{
			Type:          enums.TransactionTypeRefund,
			Status:        enums.TransactionStatusCompleted,
			AmountCents:   input.AmountCents,
			FromUserID:    &platformID,
			ToUserID:      &buyerID,
			OrderID:       &orderID,
			ReturnOrderID: &returnOrderID,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "record refund")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Transaction, string, error) {
	if userID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	txns, err := s.repo.ListTransactionsByUser(ctx, userID, cursor, params.Limit)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "list transactions")
	}
	page, next := pagination.Page(txns, params.Limit, func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return page, next, nil
}

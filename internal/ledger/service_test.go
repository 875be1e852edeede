package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/marketa-io/marketa-backend/pkg/db"
	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
	pkgerrors "github.com/marketa-io/marketa-backend/pkg/errors"
	"github.com/marketa-io/marketa-backend/pkg/pagination"
)

type ledgerFixture struct {
	conn     *gorm.DB
	svc      Service
	platform *models.User
	buyer    *models.User
	seller   *models.User
	shop     *models.Shop
}

func newFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.User{}, &models.Shop{}, &models.Order{}, &models.ShopOrder{},
		&models.ReturnOrder{}, &models.Transaction{}, &models.OrderHistory{},
	))

	platform := seedUser(t, conn, 0)
	buyer := seedUser(t, conn, 50000)
	seller := seedUser(t, conn, 0)
	shop := &models.Shop{ID: uuid.New(), OwnerUserID: seller.ID, Name: "shop", AddressID: uuid.New()}
	require.NoError(t, conn.Create(shop).Error)

	svc, err := NewService(NewRepository(conn), db.NewFromConn(conn), platform.ID)
	require.NoError(t, err)

	return &ledgerFixture{conn: conn, svc: svc, platform: platform, buyer: buyer, seller: seller, shop: shop}
}

func seedUser(t *testing.T, conn *gorm.DB, balance int) *models.User {
	t.Helper()
	user := &models.User{
		ID:           uuid.New(),
		Name:         "user",
		Email:        uuid.NewString() + "@example.com",
		Roles:        "customer",
		BalanceCents: balance,
	}
	require.NoError(t, conn.Create(user).Error)
	return user
}

func (f *ledgerFixture) balance(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	var user models.User
	require.NoError(t, f.conn.First(&user, "id = ?", userID).Error)
	return user.BalanceCents
}

func (f *ledgerFixture) seedOrder(t *testing.T, total int, status enums.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:            uuid.New(),
		BuyerUserID:   f.buyer.ID,
		Status:        status,
		SubtotalCents: total,
		TotalCents:    total,
		AddressName:   "home",
	}
	require.NoError(t, f.conn.Create(order).Error)
	return order
}

func TestDeposit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	txn, err := f.svc.Deposit(context.Background(), DepositInput{UserID: f.buyer.ID, AmountCents: 2500})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypeDeposit, txn.Type)
	assert.Equal(t, 52500, f.balance(t, f.buyer.ID))
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Deposit(context.Background(), DepositInput{UserID: f.buyer.ID, AmountCents: 0})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestPaymentMovesFundsAndAdvancesOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 20000, enums.OrderStatusPendingPayment)

	txn, err := f.svc.Payment(context.Background(), PaymentInput{
		OrderID:     order.ID,
		BuyerUserID: f.buyer.ID,
		AmountCents: 20000,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypePayment, txn.Type)

	assert.Equal(t, 30000, f.balance(t, f.buyer.ID))
	assert.Equal(t, 20000, f.balance(t, f.platform.ID))

	var stored models.Order
	require.NoError(t, f.conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)

	var history models.OrderHistory
	require.NoError(t, f.conn.First(&history, "order_id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPaid.String(), history.ToStatus)
}

func TestPaymentAmountMismatchLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 20000, enums.OrderStatusPendingPayment)

	_, err := f.svc.Payment(context.Background(), PaymentInput{
		OrderID:     order.ID,
		BuyerUserID: f.buyer.ID,
		AmountCents: 19999,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAmountMismatch))

	var stored models.Order
	require.NoError(t, f.conn.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPendingPayment, stored.Status)
	assert.Equal(t, 50000, f.balance(t, f.buyer.ID))
	assert.Equal(t, 0, f.balance(t, f.platform.ID))
}

func TestPaymentInsufficientBalance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 90000, enums.OrderStatusPendingPayment)

	_, err := f.svc.Payment(context.Background(), PaymentInput{
		OrderID:     order.ID,
		BuyerUserID: f.buyer.ID,
		AmountCents: 90000,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeBalanceNotEnough))
	assert.Equal(t, 50000, f.balance(t, f.buyer.ID))
}

func TestPaymentWrongBuyer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 20000, enums.OrderStatusPendingPayment)

	_, err := f.svc.Payment(context.Background(), PaymentInput{
		OrderID:     order.ID,
		BuyerUserID: f.seller.ID,
		AmountCents: 20000,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotPermitted))
}

func TestPaymentWrongState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 20000, enums.OrderStatusPaid)

	_, err := f.svc.Payment(context.Background(), PaymentInput{
		OrderID:     order.ID,
		BuyerUserID: f.buyer.ID,
		AmountCents: 20000,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState))
}

func TestPayOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 20000, enums.OrderStatusCompleted)
	shopOrder := &models.ShopOrder{
		ID:            uuid.New(),
		OrderID:       order.ID,
		ShopID:        f.shop.ID,
		Status:        enums.ShopOrderStatusCompleted,
		SubtotalCents: 18000,
		TotalCents:    20000,
		TrackingCode:  "TRK-1",
	}
	require.NoError(t, f.conn.Create(shopOrder).Error)

	txn, err := f.svc.PayOut(context.Background(), PayOutInput{
		ShopOrderID:  shopOrder.ID,
		SellerUserID: f.seller.ID,
		AmountCents:  20000,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypePayout, txn.Type)

	// escrow is unbounded and may go negative
	assert.Equal(t, -20000, f.balance(t, f.platform.ID))
	assert.Equal(t, 20000, f.balance(t, f.seller.ID))
}

func TestPayOutNotCompleted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 20000, enums.OrderStatusPaid)
	shopOrder := &models.ShopOrder{
		ID:           uuid.New(),
		OrderID:      order.ID,
		ShopID:       f.shop.ID,
		Status:       enums.ShopOrderStatusShipped,
		TotalCents:   20000,
		TrackingCode: "TRK-2",
	}
	require.NoError(t, f.conn.Create(shopOrder).Error)

	_, err := f.svc.PayOut(context.Background(), PayOutInput{
		ShopOrderID:  shopOrder.ID,
		SellerUserID: f.seller.ID,
		AmountCents:  20000,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState))
}

func TestPayOutWrongSeller(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 20000, enums.OrderStatusCompleted)
	shopOrder := &models.ShopOrder{
		ID:           uuid.New(),
		OrderID:      order.ID,
		ShopID:       f.shop.ID,
		Status:       enums.ShopOrderStatusCompleted,
		TotalCents:   20000,
		TrackingCode: "TRK-3",
	}
	require.NoError(t, f.conn.Create(shopOrder).Error)

	_, err := f.svc.PayOut(context.Background(), PayOutInput{
		ShopOrderID:  shopOrder.ID,
		SellerUserID: f.buyer.ID,
		AmountCents:  20000,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotPermitted))
}

func TestRefundCompletesReturn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 20000, enums.OrderStatusDelivered)
	returnOrder := &models.ReturnOrder{
		ID:          uuid.New(),
		OrderID:     order.ID,
		ShopOrderID: uuid.New(),
		BuyerUserID: f.buyer.ID,
		Status:      enums.ReturnStatusApproved,
		AmountCents: 5000,
	}
	require.NoError(t, f.conn.Create(returnOrder).Error)

	txn, err := f.svc.Refund(context.Background(), RefundInput{
		ReturnOrderID: returnOrder.ID,
		BuyerUserID:   f.buyer.ID,
		AmountCents:   5000,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypeRefund, txn.Type)
	assert.Equal(t, 55000, f.balance(t, f.buyer.ID))

	var stored models.ReturnOrder
	require.NoError(t, f.conn.First(&stored, "id = ?", returnOrder.ID).Error)
	assert.Equal(t, enums.ReturnStatusCompleted, stored.Status)
}

func TestRefundRequiresApprovedReturn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.seedOrder(t, 20000, enums.OrderStatusDelivered)
	returnOrder := &models.ReturnOrder{
		ID:          uuid.New(),
		OrderID:     order.ID,
		ShopOrderID: uuid.New(),
		BuyerUserID: f.buyer.ID,
		Status:      enums.ReturnStatusPending,
		AmountCents: 5000,
	}
	require.NoError(t, f.conn.Create(returnOrder).Error)

	_, err := f.svc.Refund(context.Background(), RefundInput{
		ReturnOrderID: returnOrder.ID,
		BuyerUserID:   f.buyer.ID,
		AmountCents:   5000,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState))
}

func TestListTransactions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Deposit(context.Background(), DepositInput{UserID: f.buyer.ID, AmountCents: 100 + i})
		require.NoError(t, err)
	}

	txns, next, err := f.svc.ListTransactions(context.Background(), f.buyer.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
	assert.NotEmpty(t, next)

	txns, next, err = f.svc.ListTransactions(context.Background(), f.buyer.ID, pagination.Params{Limit: 2, Cursor: next})
	require.NoError(t, err)
	assert.Len(t, txns, 1)
	assert.Empty(t, next)
}

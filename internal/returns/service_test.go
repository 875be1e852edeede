package returns

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/marketa-io/marketa-backend/pkg/db"
	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
	pkgerrors "github.com/marketa-io/marketa-backend/pkg/errors"
	"github.com/marketa-io/marketa-backend/pkg/logger"
	"github.com/marketa-io/marketa-backend/pkg/pagination"
)

type returnsFixture struct {
	conn      *gorm.DB
	svc       Service
	buyer     *models.User
	seller    *models.User
	shop      *models.Shop
	item      *models.Item
	order     *models.Order
	shopOrder *models.ShopOrder
	orderItem *models.OrderItem
}

// newFixture seeds a delivered single-line shop order: 2 units at 10000
// cents each, delivered two days ago, with 3 units left in stock.
func newFixture(t *testing.T) *returnsFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:returns_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.User{}, &models.Shop{}, &models.Address{}, &models.Item{},
		&models.Order{}, &models.ShopOrder{}, &models.OrderItem{},
		&models.ReturnOrder{}, &models.ReturnOrderItem{}, &models.OrderHistory{},
	))

	buyer := &models.User{ID: uuid.New(), Name: "buyer", Email: uuid.NewString() + "@example.com", Roles: "customer"}
	seller := &models.User{ID: uuid.New(), Name: "seller", Email: uuid.NewString() + "@example.com", Roles: "seller"}
	require.NoError(t, conn.Create(buyer).Error)
	require.NoError(t, conn.Create(seller).Error)

	address := &models.Address{ID: uuid.New(), Name: "warehouse", Lat: 1, Lng: 1}
	require.NoError(t, conn.Create(address).Error)
	shop := &models.Shop{ID: uuid.New(), OwnerUserID: seller.ID, Name: "shop", AddressID: address.ID}
	require.NoError(t, conn.Create(shop).Error)
	item := &models.Item{ID: uuid.New(), ShopID: shop.ID, Name: "item", PriceCents: 10000, Stock: 3}
	require.NoError(t, conn.Create(item).Error)

	deliveredAt := time.Now().Add(-2 * 24 * time.Hour)
	order := &models.Order{
		ID: uuid.New(), BuyerUserID: buyer.ID, Status: enums.OrderStatusDelivered,
		SubtotalCents: 20000, TotalCents: 20000, AddressName: "home",
	}
	require.NoError(t, conn.Create(order).Error)
	shopOrder := &models.ShopOrder{
		ID: uuid.New(), OrderID: order.ID, ShopID: shop.ID,
		Status: enums.ShopOrderStatusDelivered, SubtotalCents: 20000,
		TotalCents: 20000, TrackingCode: "SHP-TEST", DeliveredAt: &deliveredAt,
	}
	require.NoError(t, conn.Create(shopOrder).Error)
	orderItem := &models.OrderItem{
		ID: uuid.New(), ShopOrderID: shopOrder.ID, ItemID: item.ID, Name: item.Name,
		UnitPriceCents: 10000, Quantity: 2, TotalCents: 20000,
		Status: enums.OrderItemStatusDelivered,
	}
	require.NoError(t, conn.Create(orderItem).Error)

	logg := logger.New(logger.Options{ServiceName: "returns-test", Output: io.Discard})
	svc, err := NewService(NewRepository(conn), db.NewFromConn(conn), logg)
	require.NoError(t, err)

	return &returnsFixture{
		conn: conn, svc: svc, buyer: buyer, seller: seller, shop: shop,
		item: item, order: order, shopOrder: shopOrder, orderItem: orderItem,
	}
}

func (f *returnsFixture) buyerActor() Actor {
	return Actor{UserID: f.buyer.ID, Roles: enums.RoleSet{enums.RoleCustomer}}
}

func (f *returnsFixture) sellerActor() Actor {
	return Actor{UserID: f.seller.ID, Roles: enums.RoleSet{enums.RoleSeller}}
}

func adminActor() Actor {
	return Actor{UserID: uuid.New(), Roles: enums.RoleSet{enums.RoleAdmin}}
}

func (f *returnsFixture) request(t *testing.T, qty int) *ReturnDetail {
	t.Helper()
	detail, err := f.svc.Request(context.Background(), ReturnRequestInput{
		Actor: f.buyerActor(),
		Lines: []ReturnLine{{OrderItemID: f.orderItem.ID, Quantity: qty, Reason: "damaged"}},
	})
	require.NoError(t, err)
	return detail
}

func (f *returnsFixture) stock(t *testing.T) int {
	t.Helper()
	var item models.Item
	require.NoError(t, f.conn.First(&item, "id = ?", f.item.ID).Error)
	return item.Stock
}

func (f *returnsFixture) orderItemStatus(t *testing.T) enums.OrderItemStatus {
	t.Helper()
	var item models.OrderItem
	require.NoError(t, f.conn.First(&item, "id = ?", f.orderItem.ID).Error)
	return item.Status
}

func TestRequestReturn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	detail := f.request(t, 2)

	assert.Equal(t, enums.ReturnStatusPending, detail.ReturnOrder.Status)
	assert.Equal(t, 20000, detail.ReturnOrder.AmountCents)
	assert.Equal(t, f.order.ID, detail.ReturnOrder.OrderID)
	assert.Equal(t, f.shopOrder.ID, detail.ReturnOrder.ShopOrderID)

	require.Len(t, detail.Items, 1)
	assert.Equal(t, enums.ReturnStatusPending, detail.Items[0].Status)
	assert.True(t, strings.HasPrefix(detail.Items[0].TrackingCode, "RET-"))

	assert.Equal(t, enums.OrderItemStatusReturnRequested, f.orderItemStatus(t))
	// stock is only restored on approval
	assert.Equal(t, 3, f.stock(t))
}

func TestRequestReturnAfterWindowExpired(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	late := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, f.conn.Model(&models.ShopOrder{}).
		Where("id = ?", f.shopOrder.ID).
		Update("delivered_at", late).Error)

	_, err := f.svc.Request(context.Background(), ReturnRequestInput{
		Actor: f.buyerActor(),
		Lines: []ReturnLine{{OrderItemID: f.orderItem.ID, Quantity: 1, Reason: "damaged"}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeReturnPeriodExpired))

	var count int64
	require.NoError(t, f.conn.Model(&models.ReturnOrder{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, enums.OrderItemStatusDelivered, f.orderItemStatus(t))
}

func TestRequestReturnQuantityGuards(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, qty := range []int{0, -1, 3} {
		_, err := f.svc.Request(context.Background(), ReturnRequestInput{
			Actor: f.buyerActor(),
			Lines: []ReturnLine{{OrderItemID: f.orderItem.ID, Quantity: qty, Reason: "damaged"}},
		})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeQuantityReturnInvalid), "quantity %d", qty)
	}
	assert.Equal(t, enums.OrderItemStatusDelivered, f.orderItemStatus(t))
}

func TestRequestReturnTwiceRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.request(t, 1)

	_, err := f.svc.Request(context.Background(), ReturnRequestInput{
		Actor: f.buyerActor(),
		Lines: []ReturnLine{{OrderItemID: f.orderItem.ID, Quantity: 1, Reason: "changed my mind"}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState))
}

func TestRequestReturnWrongBuyer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	stranger := Actor{UserID: uuid.New(), Roles: enums.RoleSet{enums.RoleCustomer}}
	_, err := f.svc.Request(context.Background(), ReturnRequestInput{
		Actor: stranger,
		Lines: []ReturnLine{{OrderItemID: f.orderItem.ID, Quantity: 1, Reason: "damaged"}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotPermitted))
}

func TestSellerApproveRestoresStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	detail := f.request(t, 2)

	resolved, err := f.svc.ResolveItems(context.Background(), SellerResolveInput{
		Actor:         f.sellerActor(),
		ReturnOrderID: detail.ReturnOrder.ID,
		ItemIDs:       []uuid.UUID{detail.Items[0].ID},
		Approve:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.ReturnStatusApproved, resolved.ReturnOrder.Status)
	assert.Equal(t, 20000, resolved.ReturnOrder.AmountCents)
	assert.Equal(t, enums.ReturnStatusApproved, resolved.Items[0].Status)
	assert.Equal(t, enums.OrderItemStatusReturnApproved, f.orderItemStatus(t))
	assert.Equal(t, 5, f.stock(t))
}

func TestSellerRejectRequiresReason(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	detail := f.request(t, 1)

	_, err := f.svc.ResolveItems(context.Background(), SellerResolveInput{
		Actor:         f.sellerActor(),
		ReturnOrderID: detail.ReturnOrder.ID,
		ItemIDs:       []uuid.UUID{detail.Items[0].ID},
		Approve:       false,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeReasonRequired))

	resolved, err := f.svc.ResolveItems(context.Background(), SellerResolveInput{
		Actor:         f.sellerActor(),
		ReturnOrderID: detail.ReturnOrder.ID,
		ItemIDs:       []uuid.UUID{detail.Items[0].ID},
		Approve:       false,
		RejectReason:  "outside policy",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ReturnStatusRejected, resolved.ReturnOrder.Status)
	assert.Zero(t, resolved.ReturnOrder.AmountCents)
	assert.Equal(t, "outside policy", resolved.Items[0].RejectReason)
	assert.Equal(t, enums.OrderItemStatusReturnRejected, f.orderItemStatus(t))
	assert.Equal(t, 3, f.stock(t))
}

func TestSellerResolveOwnershipAndRepeat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	detail := f.request(t, 1)

	stranger := Actor{UserID: uuid.New(), Roles: enums.RoleSet{enums.RoleSeller}}
	_, err := f.svc.ResolveItems(context.Background(), SellerResolveInput{
		Actor:         stranger,
		ReturnOrderID: detail.ReturnOrder.ID,
		ItemIDs:       []uuid.UUID{detail.Items[0].ID},
		Approve:       true,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotPermitted))

	_, err = f.svc.ResolveItems(context.Background(), SellerResolveInput{
		Actor:         f.sellerActor(),
		ReturnOrderID: detail.ReturnOrder.ID,
		ItemIDs:       []uuid.UUID{detail.Items[0].ID},
		Approve:       true,
	})
	require.NoError(t, err)

	// a line already decided cannot be decided again
	_, err = f.svc.ResolveItems(context.Background(), SellerResolveInput{
		Actor:         f.sellerActor(),
		ReturnOrderID: detail.ReturnOrder.ID,
		ItemIDs:       []uuid.UUID{detail.Items[0].ID},
		Approve:       false,
		RejectReason:  "too late",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState))
	assert.Equal(t, 4, f.stock(t))
}

func TestAdminProcessApprove(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	detail := f.request(t, 2)

	processed, err := f.svc.Process(context.Background(), AdminProcessInput{
		Actor:         adminActor(),
		ReturnOrderID: detail.ReturnOrder.ID,
		Approve:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.ReturnStatusApproved, processed.ReturnOrder.Status)
	assert.Equal(t, 20000, processed.ReturnOrder.AmountCents)
	assert.Equal(t, enums.OrderItemStatusReturnApproved, f.orderItemStatus(t))
	assert.Equal(t, 5, f.stock(t))

	// re-processing an approved return is rejected
	_, err = f.svc.Process(context.Background(), AdminProcessInput{
		Actor:         adminActor(),
		ReturnOrderID: detail.ReturnOrder.ID,
		Approve:       true,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAlreadyProcessed))
}

func TestAdminRejectWithEmptyReason(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	detail := f.request(t, 1)

	_, err := f.svc.Process(context.Background(), AdminProcessInput{
		Actor:         adminActor(),
		ReturnOrderID: detail.ReturnOrder.ID,
		Approve:       false,
		Reason:        "   ",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeReasonRequired))

	var returnOrder models.ReturnOrder
	require.NoError(t, f.conn.First(&returnOrder, "id = ?", detail.ReturnOrder.ID).Error)
	assert.Equal(t, enums.ReturnStatusPending, returnOrder.Status)
}

func TestAdminProcessRequiresAdmin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	detail := f.request(t, 1)

	_, err := f.svc.Process(context.Background(), AdminProcessInput{
		Actor:         f.sellerActor(),
		ReturnOrderID: detail.ReturnOrder.ID,
		Approve:       true,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotPermitted))
}

func TestGetReturnAndListing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	detail := f.request(t, 1)
	ctx := context.Background()

	got, err := f.svc.GetReturn(ctx, detail.ReturnOrder.ID, f.buyerActor())
	require.NoError(t, err)
	assert.Equal(t, detail.ReturnOrder.ID, got.ReturnOrder.ID)
	assert.Len(t, got.Items, 1)

	stranger := Actor{UserID: uuid.New(), Roles: enums.RoleSet{enums.RoleCustomer}}
	_, err = f.svc.GetReturn(ctx, detail.ReturnOrder.ID, stranger)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotPermitted))

	rows, next, err := f.svc.ListReturnsByBuyer(ctx, f.buyerActor(), pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Empty(t, next)
}

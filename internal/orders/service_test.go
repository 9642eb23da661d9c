package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pluma-erp/pluma-erp/internal/notify"
	"github.com/pluma-erp/pluma-erp/internal/shared"
)

type memoryRepo struct {
	orders    map[int64]Order
	nextOrder int64
	nextItem  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]Order)}
}

func (r *memoryRepo) snapshot() map[int64]Order {
	out := make(map[int64]Order, len(r.orders))
	for id, order := range r.orders {
		order.Items = append([]Item(nil), order.Items...)
		out[id] = order
	}
	return out
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.snapshot()
	if err := fn(ctx, (*memoryTx)(r)); err != nil {
		r.orders = before
		return err
	}
	return nil
}

func (r *memoryRepo) Insert(ctx context.Context, order Order) (int64, error) {
	r.nextOrder++
	order.ID = r.nextOrder
	for i := range order.Items {
		r.nextItem++
		order.Items[i].ID = r.nextItem
		order.Items[i].OrderID = order.ID
	}
	order.CreatedAt = time.Now().UTC()
	r.orders[order.ID] = order
	return order.ID, nil
}

func (r *memoryRepo) Get(ctx context.Context, orderID int64) (Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	order.Items = append([]Item(nil), order.Items...)
	return order, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	var out []Order
	for _, order := range r.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		out = append(out, order)
	}
	return out, len(out), nil
}

type memoryTx memoryRepo

func (t *memoryTx) GetForUpdate(ctx context.Context, orderID int64) (Order, error) {
	return (*memoryRepo)(t).Get(ctx, orderID)
}

func (t *memoryTx) SetApproval(ctx context.Context, orderID, approver int64, at time.Time) error {
	order := t.orders[orderID]
	order.Status = StatusApproved
	order.ApprovedBy = approver
	order.ApprovedAt = &at
	t.orders[orderID] = order
	return nil
}

func (t *memoryTx) SetRejection(ctx context.Context, orderID, rejecter int64, reason string) error {
	order := t.orders[orderID]
	order.Status = StatusRejected
	order.RejectedBy = rejecter
	order.RejectionReason = reason
	t.orders[orderID] = order
	return nil
}

func (t *memoryTx) SetCancelled(ctx context.Context, orderID, canceller int64) error {
	order := t.orders[orderID]
	order.Status = StatusCancelled
	order.CancelledBy = canceller
	t.orders[orderID] = order
	return nil
}

func (t *memoryTx) SetItemFulfilled(ctx context.Context, itemID, quantity int64) error {
	for orderID, order := range t.orders {
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				order.Items[i].FulfilledQuantity = quantity
				t.orders[orderID] = order
				return nil
			}
		}
	}
	return ErrItemNotFound
}

func (t *memoryTx) SetStatuses(ctx context.Context, orderID int64, status Status, fulfillment FulfillmentStatus) error {
	order := t.orders[orderID]
	order.Status = status
	order.Fulfillment = fulfillment
	t.orders[orderID] = order
	return nil
}

type fixedStock map[[2]int64]int64

func (s fixedStock) AvailableStock(ctx context.Context, farmID, batchID int64) (int64, error) {
	return s[[2]int64{farmID, batchID}], nil
}

func newOrder(t *testing.T, svc *Service, items ...CreateItemInput) Order {
	t.Helper()
	order, err := svc.Create(context.Background(), CreateOrderInput{
		ShopID:            3,
		RequestedDelivery: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Items:             items,
	})
	require.NoError(t, err)
	return order
}

func defaultItems() []CreateItemInput {
	return []CreateItemInput{
		{BatchID: 1, FarmID: 1, RequestedQuantity: 100, UnitPrice: 12.5},
		{BatchID: 2, FarmID: 1, RequestedQuantity: 80, UnitPrice: 10},
	}
}

func newTestService(stock StockChecker) (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	return NewService(repo, stock, nil, nil, nil), repo
}

func TestCreateOrderComputesTotal(t *testing.T) {
	svc, _ := newTestService(nil)
	order := newOrder(t, svc, defaultItems()...)

	require.Equal(t, StatusPending, order.Status)
	require.Equal(t, FulfillmentNone, order.Fulfillment)
	require.InDelta(t, 100*12.5+80*10, order.TotalAmount, 0.001)
	require.Len(t, order.Items, 2)
	require.NotEmpty(t, order.Code)
}

func TestCreateOrderChecksStock(t *testing.T) {
	stock := fixedStock{{1, 1}: 50}
	svc, _ := newTestService(stock)

	_, err := svc.Create(context.Background(), CreateOrderInput{
		ShopID:            3,
		RequestedDelivery: time.Now(),
		Items:             []CreateItemInput{{BatchID: 1, FarmID: 1, RequestedQuantity: 100}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	stock[[2]int64{1, 1}] = 100
	_, err = svc.Create(context.Background(), CreateOrderInput{
		ShopID:            3,
		RequestedDelivery: time.Now(),
		Items:             []CreateItemInput{{BatchID: 1, FarmID: 1, RequestedQuantity: 100}},
	})
	require.NoError(t, err)
}

func TestApproveOnlyFromPending(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := shared.ContextWithActor(context.Background(), shared.Actor{UserID: 9, Role: "manager"})
	order := newOrder(t, svc, defaultItems()...)

	order, err := svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, order.Status)
	require.EqualValues(t, 9, order.ApprovedBy)
	require.NotNil(t, order.ApprovedAt)

	_, err = svc.Approve(ctx, order.ID)
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	_, err = svc.Reject(ctx, order.ID, "too late")
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestRejectRecordsReason(t *testing.T) {
	svc, _ := newTestService(nil)
	order := newOrder(t, svc, defaultItems()...)

	_, err := svc.Reject(context.Background(), order.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	order, err = svc.Reject(context.Background(), order.ID, "out of season")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, order.Status)
	require.Equal(t, "out of season", order.RejectionReason)

	// Rejected is terminal.
	_, err = svc.Cancel(context.Background(), order.ID)
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestFulfillmentLifecycle(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	order := newOrder(t, svc, defaultItems()...)

	_, err := svc.UpdateFulfillment(ctx, order.ID, []FulfillmentUpdate{
		{OrderItemID: order.Items[0].ID, FulfilledQuantity: 10},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation, "pending orders accept no fulfillment")

	order, err = svc.Approve(ctx, order.ID)
	require.NoError(t, err)

	// 50/100 and 80/80 leaves the order partially fulfilled.
	order, err = svc.UpdateFulfillment(ctx, order.ID, []FulfillmentUpdate{
		{OrderItemID: order.Items[0].ID, FulfilledQuantity: 50},
		{OrderItemID: order.Items[1].ID, FulfilledQuantity: 80},
	})
	require.NoError(t, err)
	require.Equal(t, FulfillmentPartial, order.Fulfillment)
	require.Equal(t, StatusPartiallyFulfilled, order.Status)

	_, err = svc.UpdateFulfillment(ctx, order.ID, []FulfillmentUpdate{
		{OrderItemID: order.Items[0].ID, FulfilledQuantity: 40},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation, "fulfilled quantity never decreases")

	_, err = svc.UpdateFulfillment(ctx, order.ID, []FulfillmentUpdate{
		{OrderItemID: order.Items[0].ID, FulfilledQuantity: 101},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation, "fulfilled quantity capped at requested")

	// Completing the first item completes the order.
	order, err = svc.UpdateFulfillment(ctx, order.ID, []FulfillmentUpdate{
		{OrderItemID: order.Items[0].ID, FulfilledQuantity: 100},
	})
	require.NoError(t, err)
	require.Equal(t, FulfillmentComplete, order.Fulfillment)
	require.Equal(t, StatusFulfilled, order.Status)

	_, err = svc.UpdateFulfillment(ctx, order.ID, []FulfillmentUpdate{
		{OrderItemID: order.Items[0].ID, FulfilledQuantity: 100},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation, "fulfilled orders are terminal")
}

func TestFulfillmentRollsBackOnPartialFailure(t *testing.T) {
	svc, repo := newTestService(nil)
	ctx := context.Background()
	order := newOrder(t, svc, defaultItems()...)
	order, err := svc.Approve(ctx, order.ID)
	require.NoError(t, err)

	// Second update is over-requested, so the first must not stick.
	_, err = svc.UpdateFulfillment(ctx, order.ID, []FulfillmentUpdate{
		{OrderItemID: order.Items[0].ID, FulfilledQuantity: 50},
		{OrderItemID: order.Items[1].ID, FulfilledQuantity: 999},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	stored, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, stored.Items[0].FulfilledQuantity)
	require.Equal(t, FulfillmentNone, stored.Fulfillment)
}

func TestCancelFromNonTerminal(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	order := newOrder(t, svc, defaultItems()...)
	order, err := svc.Cancel(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, order.Status)

	_, err = svc.Cancel(ctx, order.ID)
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

type recordingDispatcher struct {
	events []notify.Event
	fail   bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event notify.Event) error {
	if d.fail {
		return errors.New("broker down")
	}
	d.events = append(d.events, event)
	return nil
}

func TestNotificationsAreFireAndForget(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &recordingDispatcher{}
	svc := NewService(repo, nil, nil, dispatcher, nil)
	ctx := context.Background()

	order := newOrder(t, svc, defaultItems()...)
	order, err := svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, dispatcher.events, 1)
	require.Equal(t, notify.EventOrderApproved, dispatcher.events[0].Type)

	// A failing dispatcher never fails the operation.
	dispatcher.fail = true
	_, err = svc.UpdateFulfillment(ctx, order.ID, []FulfillmentUpdate{
		{OrderItemID: order.Items[0].ID, FulfilledQuantity: 100},
		{OrderItemID: order.Items[1].ID, FulfilledQuantity: 80},
	})
	require.NoError(t, err)
}

func TestDeriveFulfillment(t *testing.T) {
	cases := []struct {
		name  string
		items []Item
		want  FulfillmentStatus
	}{
		{"no items", nil, FulfillmentNone},
		{"all zero", []Item{{RequestedQuantity: 100}}, FulfillmentNone},
		{"mixed", []Item{{RequestedQuantity: 100, FulfilledQuantity: 50}, {RequestedQuantity: 80, FulfilledQuantity: 80}}, FulfillmentPartial},
		{"single complete", []Item{{RequestedQuantity: 80, FulfilledQuantity: 80}}, FulfillmentComplete},
		{"all complete", []Item{{RequestedQuantity: 100, FulfilledQuantity: 100}, {RequestedQuantity: 80, FulfilledQuantity: 80}}, FulfillmentComplete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveFulfillment(tc.items))
		})
	}
}

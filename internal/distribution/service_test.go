package distribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

type memoryRepo struct {
	vehicles      map[int64]VehicleState
	availability  map[int64]int64
	distributions map[int64]Distribution
	deliveries    map[int64]Delivery
	nextID        int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		vehicles:      make(map[int64]VehicleState),
		availability:  make(map[int64]int64),
		distributions: make(map[int64]Distribution),
		deliveries:    make(map[int64]Delivery),
	}
}

func (r *memoryRepo) snapshot() (map[int64]Distribution, map[int64]Delivery) {
	ds := make(map[int64]Distribution, len(r.distributions))
	for id, d := range r.distributions {
		d.Items = append([]Item(nil), d.Items...)
		ds[id] = d
	}
	dl := make(map[int64]Delivery, len(r.deliveries))
	for id, d := range r.deliveries {
		dl[id] = d
	}
	return ds, dl
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	ds, dl := r.snapshot()
	if err := fn(ctx, (*memoryTx)(r)); err != nil {
		r.distributions, r.deliveries = ds, dl
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Distribution, error) {
	d, ok := r.distributions[id]
	if !ok {
		return Distribution{}, ErrDistributionNotFound
	}
	d.Items = append([]Item(nil), d.Items...)
	return d, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Distribution, int, error) {
	var out []Distribution
	for _, d := range r.distributions {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}

func (r *memoryRepo) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	d, ok := r.deliveries[id]
	if !ok {
		return Delivery{}, ErrDeliveryNotFound
	}
	return d, nil
}

func (r *memoryRepo) ListDeliveries(ctx context.Context, distributionID int64) ([]Delivery, error) {
	var out []Delivery
	for _, d := range r.deliveries {
		if d.DistributionID == distributionID {
			out = append(out, d)
		}
	}
	return out, nil
}

type memoryTx memoryRepo

func (t *memoryTx) GetVehicle(ctx context.Context, vehicleID int64) (VehicleState, error) {
	v, ok := t.vehicles[vehicleID]
	if !ok {
		return VehicleState{}, ErrVehicleNotFound
	}
	return v, nil
}

func (t *memoryTx) BatchAvailability(ctx context.Context, batchID int64) (int64, error) {
	available := t.availability[batchID]
	for _, d := range t.distributions {
		for _, item := range d.Items {
			if item.BatchID == batchID && (item.Status == ItemPending || item.Status == ItemDelivered) {
				available -= item.Quantity
			}
		}
	}
	return available, nil
}

func (t *memoryTx) InsertDistribution(ctx context.Context, d Distribution) (int64, error) {
	t.nextID++
	d.ID = t.nextID
	d.CreatedAt = time.Now().UTC()
	t.distributions[d.ID] = d
	return d.ID, nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	t.nextID++
	item.ID = t.nextID
	d := t.distributions[item.DistributionID]
	d.Items = append(d.Items, item)
	t.distributions[item.DistributionID] = d
	return item.ID, nil
}

func (t *memoryTx) InsertDelivery(ctx context.Context, delivery Delivery) (int64, error) {
	t.nextID++
	delivery.ID = t.nextID
	t.deliveries[delivery.ID] = delivery
	return delivery.ID, nil
}

func (t *memoryTx) GetDistributionForUpdate(ctx context.Context, id int64) (Distribution, error) {
	return (*memoryRepo)(t).Get(ctx, id)
}

func (t *memoryTx) SetDistributionStatus(ctx context.Context, id int64, status Status) error {
	d := t.distributions[id]
	d.Status = status
	t.distributions[id] = d
	return nil
}

func (t *memoryTx) GetDeliveryForUpdate(ctx context.Context, id int64) (Delivery, error) {
	return (*memoryRepo)(t).GetDelivery(ctx, id)
}

func (t *memoryTx) SetDeliveryVerification(ctx context.Context, id, verified int64, status DeliveryStatus, at time.Time) error {
	d := t.deliveries[id]
	d.VerifiedQuantity = verified
	d.Status = status
	d.VerifiedAt = &at
	t.deliveries[id] = d
	return nil
}

func (t *memoryTx) SetDeliveryStatus(ctx context.Context, id int64, status DeliveryStatus) error {
	d := t.deliveries[id]
	d.Status = status
	t.deliveries[id] = d
	return nil
}

func (t *memoryTx) SetItemsStatusForShop(ctx context.Context, distributionID, shopID int64, status ItemStatus) error {
	d := t.distributions[distributionID]
	for i := range d.Items {
		if d.Items[i].ShopID == shopID {
			d.Items[i].Status = status
		}
	}
	t.distributions[distributionID] = d
	return nil
}

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	repo.vehicles[1] = VehicleState{ID: 1, Active: true}
	repo.vehicles[2] = VehicleState{ID: 2, Active: false}
	repo.availability[10] = 500
	repo.availability[11] = 300
	return NewService(repo, nil, nil, nil), repo
}

func schedule(t *testing.T, svc *Service, items ...CreateItemInput) Distribution {
	t.Helper()
	d, err := svc.Create(context.Background(), CreateDistributionInput{
		VehicleID:     1,
		ScheduledDate: time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		Items:         items,
	})
	require.NoError(t, err)
	return d
}

func TestCreateDistribution(t *testing.T) {
	svc, _ := newTestService()
	d := schedule(t, svc,
		CreateItemInput{BatchID: 10, ShopID: 100, Quantity: 200},
		CreateItemInput{BatchID: 10, ShopID: 101, Quantity: 150},
		CreateItemInput{BatchID: 11, ShopID: 100, Quantity: 50},
	)

	require.Equal(t, StatusScheduled, d.Status)
	require.Len(t, d.Items, 3)

	// One delivery per shop, totals summed across batches.
	deliveries, err := svc.Deliveries(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	totals := map[int64]int64{}
	for _, delivery := range deliveries {
		totals[delivery.ShopID] = delivery.TotalQuantity
		require.Equal(t, DeliveryPending, delivery.Status)
	}
	require.EqualValues(t, 250, totals[100])
	require.EqualValues(t, 150, totals[101])
}

func TestCreateDistributionRejectsInactiveVehicle(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateDistributionInput{
		VehicleID:     2,
		ScheduledDate: time.Now(),
		Items:         []CreateItemInput{{BatchID: 10, ShopID: 100, Quantity: 10}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	_, err = svc.Create(context.Background(), CreateDistributionInput{
		VehicleID:     99,
		ScheduledDate: time.Now(),
		Items:         []CreateItemInput{{BatchID: 10, ShopID: 100, Quantity: 10}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateDistributionAggregateAvailability(t *testing.T) {
	svc, _ := newTestService()

	// Two lines of the same batch exceed availability together even though
	// each alone fits.
	_, err := svc.Create(context.Background(), CreateDistributionInput{
		VehicleID:     1,
		ScheduledDate: time.Now(),
		Items: []CreateItemInput{
			{BatchID: 10, ShopID: 100, Quantity: 300},
			{BatchID: 10, ShopID: 101, Quantity: 300},
		},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	// Committed quantity from an earlier run reduces what a later run may take.
	schedule(t, svc, CreateItemInput{BatchID: 10, ShopID: 100, Quantity: 400})
	_, err = svc.Create(context.Background(), CreateDistributionInput{
		VehicleID:     1,
		ScheduledDate: time.Now(),
		Items:         []CreateItemInput{{BatchID: 10, ShopID: 101, Quantity: 200}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestDistributionStatusTransitions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d := schedule(t, svc, CreateItemInput{BatchID: 10, ShopID: 100, Quantity: 10})

	_, err := svc.UpdateStatus(ctx, d.ID, StatusCompleted)
	require.ErrorIs(t, err, shared.ErrInvalidOperation, "scheduled cannot jump to completed")

	d, err = svc.UpdateStatus(ctx, d.ID, StatusInTransit)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, d.Status)

	_, err = svc.UpdateStatus(ctx, d.ID, StatusScheduled)
	require.ErrorIs(t, err, shared.ErrInvalidOperation, "no backward transitions")

	d, err = svc.UpdateStatus(ctx, d.ID, StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, d.Status)

	_, err = svc.UpdateStatus(ctx, d.ID, StatusCancelled)
	require.ErrorIs(t, err, shared.ErrInvalidOperation, "completed is terminal")
}

func TestVerifyDelivery(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d := schedule(t, svc, CreateItemInput{BatchID: 10, ShopID: 100, Quantity: 120})
	deliveries, err := svc.Deliveries(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	leg := deliveries[0]

	_, err = svc.VerifyDelivery(ctx, leg.ID, 121)
	require.ErrorIs(t, err, shared.ErrInvalidOperation, "verified cannot exceed dispatched")

	verified, err := svc.VerifyDelivery(ctx, leg.ID, 80)
	require.NoError(t, err)
	require.Equal(t, DeliveryPartial, verified.Status)
	require.EqualValues(t, 80, verified.VerifiedQuantity)

	verified, err = svc.VerifyDelivery(ctx, leg.ID, 120)
	require.NoError(t, err)
	require.Equal(t, DeliveryCompleted, verified.Status)

	// Completion marks the shop's items delivered.
	d, err = svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, ItemDelivered, d.Items[0].Status)

	_, err = svc.VerifyDelivery(ctx, leg.ID, 120)
	require.ErrorIs(t, err, shared.ErrInvalidOperation, "completed deliveries are settled")
}

func TestVerifyDeliveryRestatesWhileOpen(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d := schedule(t, svc, CreateItemInput{BatchID: 10, ShopID: 100, Quantity: 120})
	deliveries, err := svc.Deliveries(ctx, d.ID)
	require.NoError(t, err)
	leg := deliveries[0]

	verified, err := svc.VerifyDelivery(ctx, leg.ID, 50)
	require.NoError(t, err)
	require.Equal(t, DeliveryPartial, verified.Status)

	// each call restates the count, so a miscount can be corrected downward
	verified, err = svc.VerifyDelivery(ctx, leg.ID, 30)
	require.NoError(t, err)
	require.Equal(t, DeliveryPartial, verified.Status)
	require.EqualValues(t, 30, verified.VerifiedQuantity)

	verified, err = svc.VerifyDelivery(ctx, leg.ID, 0)
	require.NoError(t, err)
	require.Equal(t, DeliveryPending, verified.Status)
	require.EqualValues(t, 0, verified.VerifiedQuantity)
}

func TestCancelDelivery(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d := schedule(t, svc, CreateItemInput{BatchID: 10, ShopID: 100, Quantity: 60})
	deliveries, err := svc.Deliveries(ctx, d.ID)
	require.NoError(t, err)
	leg := deliveries[0]

	cancelled, err := svc.CancelDelivery(ctx, leg.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryCancelled, cancelled.Status)

	d, err = svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, ItemReturned, d.Items[0].Status)

	_, err = svc.CancelDelivery(ctx, leg.ID)
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

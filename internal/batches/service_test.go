package batches

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

type memoryRepo struct {
	batches map[int64]Batch
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[int64]Batch)}
}

func (r *memoryRepo) Insert(ctx context.Context, batch Batch) (int64, error) {
	r.nextID++
	batch.ID = r.nextID
	r.batches[batch.ID] = batch
	return batch.ID, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64, includeDeleted bool) (Batch, error) {
	batch, ok := r.batches[id]
	if !ok || (!includeDeleted && batch.Deleted()) {
		return Batch{}, ErrBatchNotFound
	}
	return batch, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Batch, int, error) {
	var out []Batch
	for _, batch := range r.batches {
		if !filter.IncludeDeleted && batch.Deleted() {
			continue
		}
		if filter.Status != "" && batch.Status != filter.Status {
			continue
		}
		if filter.FarmID != 0 && (batch.FarmID == nil || *batch.FarmID != filter.FarmID) {
			continue
		}
		out = append(out, batch)
	}
	return out, len(out), nil
}

func (r *memoryRepo) SetStatus(ctx context.Context, id int64, status BatchStatus) error {
	batch := r.batches[id]
	batch.Status = status
	r.batches[id] = batch
	return nil
}

func (r *memoryRepo) SetHealth(ctx context.Context, id int64, health HealthStatus) error {
	batch := r.batches[id]
	batch.Health = health
	r.batches[id] = batch
	return nil
}

func (r *memoryRepo) AssignFarm(ctx context.Context, id, farmID int64) error {
	batch := r.batches[id]
	batch.FarmID = &farmID
	r.batches[id] = batch
	return nil
}

func (r *memoryRepo) SoftDelete(ctx context.Context, id int64, deletedAt time.Time) error {
	batch := r.batches[id]
	batch.DeletedAt = &deletedAt
	r.batches[id] = batch
	return nil
}

func newBatch(t *testing.T, svc *Service) Batch {
	t.Helper()
	batch, err := svc.Create(context.Background(), CreateBatchInput{
		SupplierID:   7,
		PurchaseDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Quantity:     500,
		AgeDays:      14,
		WeightKg:     0.9,
	})
	require.NoError(t, err)
	return batch
}

func TestCreateBatchDefaults(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	batch := newBatch(t, svc)

	require.Equal(t, StatusPurchased, batch.Status)
	require.Equal(t, HealthHealthy, batch.Health)
	require.NotEmpty(t, batch.Code)

	_, err := svc.Create(context.Background(), CreateBatchInput{SupplierID: 7, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdvanceStatusForwardOnly(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	batch := newBatch(t, svc)
	ctx := context.Background()

	batch, err := svc.AdvanceStatus(ctx, batch.ID, StatusInFarm)
	require.NoError(t, err)
	require.Equal(t, StatusInFarm, batch.Status)

	// Skipping stages forward is allowed.
	batch, err = svc.AdvanceStatus(ctx, batch.ID, StatusInTransit)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, batch.Status)

	_, err = svc.AdvanceStatus(ctx, batch.ID, StatusPurchased)
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	_, err = svc.AdvanceStatus(ctx, batch.ID, StatusInTransit)
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	_, err = svc.AdvanceStatus(ctx, batch.ID, "FLYING")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSoftDeleteHidesFromDefaultReads(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	batch := newBatch(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.SoftDelete(ctx, batch.ID))

	_, err := svc.Get(ctx, batch.ID, false)
	require.ErrorIs(t, err, shared.ErrNotFound)

	got, err := svc.Get(ctx, batch.ID, true)
	require.NoError(t, err)
	require.True(t, got.Deleted())

	listed, _, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, listed)

	listed, _, err = svc.List(ctx, ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.ErrorIs(t, svc.SoftDelete(ctx, batch.ID), shared.ErrNotFound)
}

func TestUpdateHealthAndAssignFarm(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	batch := newBatch(t, svc)
	ctx := context.Background()

	batch, err := svc.UpdateHealth(ctx, batch.ID, HealthQuarantined)
	require.NoError(t, err)
	require.Equal(t, HealthQuarantined, batch.Health)

	_, err = svc.UpdateHealth(ctx, batch.ID, "GLOWING")
	require.ErrorIs(t, err, shared.ErrValidation)

	batch, err = svc.AssignFarm(ctx, batch.ID, 12)
	require.NoError(t, err)
	require.NotNil(t, batch.FarmID)
	require.EqualValues(t, 12, *batch.FarmID)
}

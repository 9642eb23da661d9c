package farms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

type memoryRepo struct {
	farms         map[int64]Farm
	inventoryRows map[int64][]BatchStock
	nextID        int64
	loads         int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{farms: make(map[int64]Farm), inventoryRows: make(map[int64][]BatchStock)}
}

func (r *memoryRepo) Insert(ctx context.Context, farm Farm) (int64, error) {
	r.nextID++
	farm.ID = r.nextID
	r.farms[farm.ID] = farm
	return farm.ID, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, input UpdateFarmInput) error {
	farm := r.farms[id]
	if input.Name != nil {
		farm.Name = *input.Name
	}
	if input.Location != nil {
		farm.Location = *input.Location
	}
	if input.Capacity != nil {
		farm.Capacity = *input.Capacity
	}
	if input.Active != nil {
		farm.Active = *input.Active
	}
	r.farms[id] = farm
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Farm, error) {
	if farm, ok := r.farms[id]; ok {
		return farm, nil
	}
	return Farm{}, ErrFarmNotFound
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Farm, int, error) {
	var out []Farm
	for _, farm := range r.farms {
		if filter.TenantID != 0 && farm.TenantID != filter.TenantID {
			continue
		}
		if !filter.IncludeInactive && !farm.Active {
			continue
		}
		out = append(out, farm)
	}
	return out, len(out), nil
}

func (r *memoryRepo) InventoryRows(ctx context.Context, farmID int64) ([]BatchStock, error) {
	r.loads++
	return r.inventoryRows[farmID], nil
}

func TestCreateAndGetFarm(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := shared.ContextWithTenant(context.Background(), 42)

	farm, err := svc.Create(ctx, CreateFarmInput{Name: "Riverside", Capacity: 5000})
	require.NoError(t, err)
	require.EqualValues(t, 42, farm.TenantID)
	require.True(t, farm.Active)

	_, err = svc.Create(ctx, CreateFarmInput{Name: "Broken", Capacity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Get(ctx, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFiltersTenantAndActive(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.Create(shared.ContextWithTenant(context.Background(), 1), CreateFarmInput{Name: "A", Capacity: 100})
	require.NoError(t, err)
	farmB, err := svc.Create(shared.ContextWithTenant(context.Background(), 2), CreateFarmInput{Name: "B", Capacity: 100})
	require.NoError(t, err)
	inactive := false
	_, err = svc.Update(context.Background(), farmB.ID, UpdateFarmInput{Active: &inactive})
	require.NoError(t, err)

	farms, _, err := svc.List(shared.ContextWithTenant(context.Background(), 2), false, 1, 20)
	require.NoError(t, err)
	require.Empty(t, farms)

	farms, _, err = svc.List(shared.ContextWithTenant(context.Background(), 2), true, 1, 20)
	require.NoError(t, err)
	require.Len(t, farms, 1)
}

func TestInventoryBreakdown(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	farm, err := svc.Create(ctx, CreateFarmInput{Name: "Hilltop", Capacity: 2000})
	require.NoError(t, err)
	stored := repo.farms[farm.ID]
	stored.CurrentCount = 800
	repo.farms[farm.ID] = stored
	repo.inventoryRows[farm.ID] = []BatchStock{
		{BatchID: 1, BatchCode: "B-001", TotalQuantity: 500, CommittedQuantity: 120, AvailableQuantity: 380},
		{BatchID: 2, BatchCode: "B-002", TotalQuantity: 300, CommittedQuantity: 0, AvailableQuantity: 300},
	}

	inv, err := svc.Inventory(ctx, farm.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2000, inv.Capacity)
	require.EqualValues(t, 800, inv.CurrentStock)
	require.EqualValues(t, 800, inv.AvailableStock)
	require.Len(t, inv.Batches, 2)
	require.EqualValues(t, 380, inv.Batches[0].AvailableQuantity)
}

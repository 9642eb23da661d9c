package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

type memoryRepo struct {
	farms     map[int64]*FarmState
	batches   map[int64]BatchState
	balances  map[string]int64
	movements []Movement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		farms:    make(map[int64]*FarmState),
		batches:  make(map[int64]BatchState),
		balances: make(map[string]int64),
	}
}

func balanceKey(farmID, batchID int64) string {
	return fmt.Sprintf("%d:%d", farmID, batchID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Snapshot state so a failed callback leaves nothing behind, mirroring
	// the rollback semantics of the real repository.
	farms := make(map[int64]*FarmState, len(r.farms))
	for id, f := range r.farms {
		cp := *f
		farms[id] = &cp
	}
	balances := make(map[string]int64, len(r.balances))
	for k, v := range r.balances {
		balances[k] = v
	}
	movements := make([]Movement, len(r.movements))
	copy(movements, r.movements)
	nextID := r.nextID

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.farms = farms
		r.balances = balances
		r.movements = movements
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if filter.FarmID != 0 && m.FarmID != filter.FarmID {
			continue
		}
		if filter.BatchID != 0 && m.BatchID != filter.BatchID {
			continue
		}
		if !filter.From.IsZero() && m.OccurredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.OccurredAt.After(filter.To) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *memoryRepo) GetBalance(ctx context.Context, farmID, batchID int64) (int64, error) {
	if qty, ok := r.balances[balanceKey(farmID, batchID)]; ok {
		return qty, nil
	}
	return 0, ErrBalanceNotFound
}

func (tx *memoryTx) GetFarmForUpdate(ctx context.Context, farmID int64) (FarmState, error) {
	if farm, ok := tx.repo.farms[farmID]; ok {
		return *farm, nil
	}
	return FarmState{}, ErrFarmNotFound
}

func (tx *memoryTx) GetBatch(ctx context.Context, batchID int64) (BatchState, error) {
	if batch, ok := tx.repo.batches[batchID]; ok {
		return batch, nil
	}
	return BatchState{}, ErrBatchNotFound
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, farmID, batchID int64) (int64, error) {
	return tx.repo.GetBalance(ctx, farmID, batchID)
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, farmID, batchID, quantity int64) error {
	tx.repo.balances[balanceKey(farmID, batchID)] = quantity
	return nil
}

func (tx *memoryTx) UpdateFarmCount(ctx context.Context, farmID, delta int64) error {
	tx.repo.farms[farmID].CurrentCount += delta
	return nil
}

func (tx *memoryTx) SetFarmCount(ctx context.Context, farmID, count int64) error {
	tx.repo.farms[farmID].CurrentCount = count
	return nil
}

func seedFarm(repo *memoryRepo, id, capacity int64) {
	repo.farms[id] = &FarmState{ID: id, Capacity: capacity, Active: true}
}

func seedBatch(repo *memoryRepo, id, quantity int64) {
	repo.batches[id] = BatchState{ID: id, Quantity: quantity}
}

func TestRecordMovementRunningBalance(t *testing.T) {
	repo := newMemoryRepo()
	seedFarm(repo, 1, 10000)
	seedBatch(repo, 7, 500)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	entry, err := svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: 500})
	require.NoError(t, err)
	require.EqualValues(t, 0, entry.PreviousQuantity)
	require.EqualValues(t, 500, entry.NewQuantity)

	entry, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementLoss, Quantity: 20, Reason: "mortality"})
	require.NoError(t, err)
	require.EqualValues(t, 500, entry.PreviousQuantity)
	require.EqualValues(t, 480, entry.NewQuantity)

	entry, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementAdjustment, Quantity: -30, Reason: "recount"})
	require.NoError(t, err)
	require.EqualValues(t, 450, entry.NewQuantity)

	stock, err := svc.AvailableStock(ctx, 1, 7)
	require.NoError(t, err)
	require.EqualValues(t, 450, stock)

	// The replay result must match the cached snapshot of the last movement.
	cached, err := repo.GetBalance(ctx, 1, 7)
	require.NoError(t, err)
	require.Equal(t, stock, cached)
	require.EqualValues(t, 450, repo.farms[1].CurrentCount)
}

func TestOutMovementRejectedWhenInsufficient(t *testing.T) {
	repo := newMemoryRepo()
	seedFarm(repo, 1, 10000)
	seedBatch(repo, 7, 500)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: 500})
	require.NoError(t, err)

	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementOut, Quantity: 600})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	// Stock unchanged after the rejected attempt.
	stock, err := svc.AvailableStock(ctx, 1, 7)
	require.NoError(t, err)
	require.EqualValues(t, 500, stock)
	require.EqualValues(t, 500, repo.farms[1].CurrentCount)
	require.Len(t, repo.movements, 1)
}

func TestInMovementRejectedOverCapacity(t *testing.T) {
	repo := newMemoryRepo()
	seedFarm(repo, 1, 1000)
	seedBatch(repo, 7, 900)
	seedBatch(repo, 8, 400)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: 900})
	require.NoError(t, err)

	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 8, Type: MovementIn, Quantity: 400})
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.EqualValues(t, 900, repo.farms[1].CurrentCount)

	// A positive adjustment is held to the same ceiling.
	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 8, Type: MovementAdjustment, Quantity: 200})
	require.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 8, Type: MovementIn, Quantity: 100})
	require.NoError(t, err)
	require.EqualValues(t, 1000, repo.farms[1].CurrentCount)
}

func TestRecordMovementValidation(t *testing.T) {
	repo := newMemoryRepo()
	seedFarm(repo, 1, 1000)
	seedBatch(repo, 7, 100)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: -5})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementAdjustment, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 2, BatchID: 7, Type: MovementIn, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 99, Type: MovementIn, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrNotFound)

	repo.farms[1].Active = false
	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: 5})
	require.ErrorIs(t, err, ErrFarmInactive)
}

type memoryKeys struct {
	keys map[string]bool
}

func (s *memoryKeys) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys == nil {
		s.keys = make(map[string]bool)
	}
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *memoryKeys) Delete(ctx context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

func TestRecordMovementIdempotency(t *testing.T) {
	repo := newMemoryRepo()
	seedFarm(repo, 1, 10000)
	seedBatch(repo, 7, 500)
	svc := NewService(repo, nil, &memoryKeys{}, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, RecordMovementInput{Code: "MOV-OPENING", FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: 500})
	require.NoError(t, err)

	// a retry with the same code is a duplicate, not a second movement
	_, err = svc.RecordMovement(ctx, RecordMovementInput{Code: "MOV-OPENING", FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: 500})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, repo.movements, 1)

	// without a caller-supplied code each call gets a fresh identity
	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementLoss, Quantity: 5})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementLoss, Quantity: 5})
	require.NoError(t, err)
	require.Len(t, repo.movements, 3)

	// a rejected movement releases its key for a corrected retry
	_, err = svc.RecordMovement(ctx, RecordMovementInput{Code: "MOV-CULL", FarmID: 1, BatchID: 7, Type: MovementOut, Quantity: 9999})
	require.ErrorIs(t, err, ErrNegativeStock)
	_, err = svc.RecordMovement(ctx, RecordMovementInput{Code: "MOV-CULL", FarmID: 1, BatchID: 7, Type: MovementOut, Quantity: 100})
	require.NoError(t, err)
}

func TestSummarize(t *testing.T) {
	repo := newMemoryRepo()
	seedFarm(repo, 1, 10000)
	seedBatch(repo, 7, 1000)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	steps := []RecordMovementInput{
		{FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: 1000},
		{FarmID: 1, BatchID: 7, Type: MovementOut, Quantity: 300},
		{FarmID: 1, BatchID: 7, Type: MovementLoss, Quantity: 25},
		{FarmID: 1, BatchID: 7, Type: MovementAdjustment, Quantity: -15},
	}
	for _, step := range steps {
		_, err := svc.RecordMovement(ctx, step)
		require.NoError(t, err)
	}

	summary, err := svc.Summarize(ctx, 1, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.EqualValues(t, 1000, summary.TotalIn)
	require.EqualValues(t, 300, summary.TotalOut)
	require.EqualValues(t, 25, summary.TotalLoss)
	require.EqualValues(t, -15, summary.TotalAdjustments)
	require.EqualValues(t, 660, summary.NetChange)
}

func TestReplayTieBreakByInsertionOrder(t *testing.T) {
	at := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	movements := []Movement{
		{ID: 3, Type: MovementOut, Quantity: 100, OccurredAt: at},
		{ID: 1, Type: MovementIn, Quantity: 400, OccurredAt: at},
		{ID: 2, Type: MovementLoss, Quantity: 50, OccurredAt: at},
	}
	// Regardless of slice order, equal timestamps apply in id order.
	require.EqualValues(t, 250, Replay(movements))
	require.EqualValues(t, 250, Replay([]Movement{movements[2], movements[0], movements[1]}))
}

func TestReconcileRepairsDriftedCaches(t *testing.T) {
	repo := newMemoryRepo()
	seedFarm(repo, 1, 10000)
	seedBatch(repo, 7, 500)
	seedBatch(repo, 8, 200)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: 500})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 8, Type: MovementIn, Quantity: 200})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, RecordMovementInput{FarmID: 1, BatchID: 7, Type: MovementOut, Quantity: 120})
	require.NoError(t, err)

	// Corrupt the caches behind the ledger's back.
	repo.balances[balanceKey(1, 7)] = 9999
	repo.farms[1].CurrentCount = -3

	report, err := svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{7}, report.RepairedBatches)
	require.True(t, report.FarmCountRepaired)
	require.EqualValues(t, -3, report.PreviousFarmCount)
	require.EqualValues(t, 580, report.FarmCount)
	require.EqualValues(t, 380, report.BatchBalances[7])
	require.EqualValues(t, 200, report.BatchBalances[8])

	require.EqualValues(t, 380, repo.balances[balanceKey(1, 7)])
	require.EqualValues(t, 580, repo.farms[1].CurrentCount)

	// A second run finds nothing to repair.
	report, err = svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, report.RepairedBatches)
	require.False(t, report.FarmCountRepaired)
}

func TestRoundTripReplayMatchesCount(t *testing.T) {
	repo := newMemoryRepo()
	seedFarm(repo, 1, 100000)
	seedBatch(repo, 7, 1000)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	at := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	inputs := []RecordMovementInput{
		{FarmID: 1, BatchID: 7, Type: MovementIn, Quantity: 1000, OccurredAt: at},
		{FarmID: 1, BatchID: 7, Type: MovementOut, Quantity: 250, OccurredAt: at},
		{FarmID: 1, BatchID: 7, Type: MovementLoss, Quantity: 40, OccurredAt: at},
		{FarmID: 1, BatchID: 7, Type: MovementAdjustment, Quantity: 15, OccurredAt: at},
		{FarmID: 1, BatchID: 7, Type: MovementOut, Quantity: 100, OccurredAt: at.Add(time.Hour)},
	}
	for _, input := range inputs {
		_, err := svc.RecordMovement(ctx, input)
		require.NoError(t, err)
	}

	movements, err := svc.ListMovements(ctx, MovementFilter{FarmID: 1, BatchID: 7})
	require.NoError(t, err)
	require.EqualValues(t, repo.farms[1].CurrentCount, Replay(movements))
	require.EqualValues(t, 625, Replay(movements))
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// FarmState is the slice of a farm the ledger needs for capacity checks.
type FarmState struct {
	ID           int64
	Capacity     int64
	CurrentCount int64
	Active       bool
}

// BatchState is the slice of a batch the ledger needs for validation.
type BatchState struct {
	ID       int64
	Quantity int64
	Deleted  bool
}

// TxRepository exposes the row-locked operations executed inside one
// transaction per movement. Implementations must hold the farm and balance
// rows under FOR UPDATE until commit.
type TxRepository interface {
	GetFarmForUpdate(ctx context.Context, farmID int64) (FarmState, error)
	GetBatch(ctx context.Context, batchID int64) (BatchState, error)
	GetBalanceForUpdate(ctx context.Context, farmID, batchID int64) (int64, error)
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	UpsertBalance(ctx context.Context, farmID, batchID, quantity int64) error
	UpdateFarmCount(ctx context.Context, farmID, delta int64) error
	SetFarmCount(ctx context.Context, farmID, count int64) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	GetBalance(ctx context.Context, farmID, batchID int64) (int64, error)
}

// AuditPort abstracts audit logging. Failures are logged and swallowed.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator bumps derived-view caches after a ledger write.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, farmID int64)
}

// IdempotencyPort guards against double-applying a retried movement post.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ErrBalanceNotFound indicates no prior movement for the (farm, batch) pair.
var ErrBalanceNotFound = errors.New("ledger: balance not found")

// Service coordinates stock ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	invalidator CacheInvalidator
	logger      *slog.Logger
}

// NewService builds Service. audit, idempotency and invalidator may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, invalidator CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, invalidator: invalidator, logger: logger}
}

// RecordMovement appends a ledger entry and updates the farm count in the
// same transaction. Out/Loss movements that would drive the balance negative
// and In movements that would exceed farm capacity are rejected with no
// partial writes.
func (s *Service) RecordMovement(ctx context.Context, input RecordMovementInput) (Movement, error) {
	if !input.Type.Valid() {
		return Movement{}, shared.Validationf("unknown movement type %q", input.Type)
	}
	if input.Type == MovementAdjustment {
		if input.Quantity == 0 {
			return Movement{}, shared.Validationf("adjustment delta must be non-zero")
		}
	} else if input.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if input.FarmID <= 0 || input.BatchID <= 0 {
		return Movement{}, shared.Validationf("farm and batch required")
	}

	now := time.Now().UTC()
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	// replay protection only engages with a caller-supplied code; generated
	// codes are unique per call and carry no retry identity
	code := input.Code
	var key string
	if code == "" {
		code = fmt.Sprintf("MOV-%s", uuid.NewString())
	} else if s.idempotency != nil {
		key = fmt.Sprintf("%s:%s:%d:%d", input.Type, code, input.FarmID, input.BatchID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return Movement{}, err
		}
	}

	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		farm, err := tx.GetFarmForUpdate(ctx, input.FarmID)
		if err != nil {
			return err
		}
		if !farm.Active {
			return ErrFarmInactive
		}
		batch, err := tx.GetBatch(ctx, input.BatchID)
		if err != nil {
			return err
		}
		if batch.Deleted {
			return ErrBatchDeleted
		}

		previous, err := tx.GetBalanceForUpdate(ctx, input.FarmID, input.BatchID)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return err
		}

		delta := input.Type.SignedDelta(input.Quantity)
		newQuantity := previous + delta
		if newQuantity < 0 {
			return ErrNegativeStock
		}
		if delta > 0 && farm.CurrentCount+delta > farm.Capacity {
			return fmt.Errorf("%w: %d + %d > %d", ErrCapacityExceeded, farm.CurrentCount, delta, farm.Capacity)
		}

		movement = Movement{
			Code:             code,
			FarmID:           input.FarmID,
			BatchID:          input.BatchID,
			Type:             input.Type,
			Quantity:         input.Quantity,
			PreviousQuantity: previous,
			NewQuantity:      newQuantity,
			Reason:           input.Reason,
			OccurredAt:       occurredAt,
			RecordedBy:       input.ActorID,
			CreatedAt:        now,
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id

		if err := tx.UpsertBalance(ctx, input.FarmID, input.BatchID, newQuantity); err != nil {
			return err
		}
		return tx.UpdateFarmCount(ctx, input.FarmID, delta)
	})
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Movement{}, err
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, input.FarmID)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			TenantID: shared.TenantFromContext(ctx),
			Action:   fmt.Sprintf("ledger:%s", input.Type),
			Entity:   "stock_movement",
			EntityID: movement.Code,
			Meta: map[string]any{
				"farm_id":  input.FarmID,
				"batch_id": input.BatchID,
				"quantity": input.Quantity,
				"reason":   input.Reason,
			},
		}); err != nil {
			s.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
	return movement, nil
}

// AvailableStock derives current stock for a (farm, batch) pair by replaying
// the ledger. The result always equals the NewQuantity snapshot of the most
// recent movement; the cached balance is an optimisation, not an authority.
func (s *Service) AvailableStock(ctx context.Context, farmID, batchID int64) (int64, error) {
	if farmID <= 0 || batchID <= 0 {
		return 0, shared.Validationf("farm and batch required")
	}
	movements, err := s.repo.ListMovements(ctx, MovementFilter{FarmID: farmID, BatchID: batchID})
	if err != nil {
		return 0, err
	}
	return Replay(movements), nil
}

// Replay computes the net balance of a movement sequence. Same-timestamp
// entries apply in insertion (id) order.
func Replay(movements []Movement) int64 {
	ordered := make([]Movement, len(movements))
	copy(ordered, movements)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].OccurredAt.Equal(ordered[j].OccurredAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
	})
	var total int64
	for _, m := range ordered {
		total += m.Type.SignedDelta(m.Quantity)
	}
	return total
}

// Summarize aggregates movements for a farm within the given range.
func (s *Service) Summarize(ctx context.Context, farmID int64, from, to time.Time) (Summary, error) {
	if farmID <= 0 {
		return Summary{}, shared.Validationf("farm required")
	}
	movements, err := s.repo.ListMovements(ctx, MovementFilter{FarmID: farmID, From: from, To: to})
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{FarmID: farmID}
	for _, m := range movements {
		switch m.Type {
		case MovementIn:
			summary.TotalIn += m.Quantity
		case MovementOut:
			summary.TotalOut += m.Quantity
		case MovementLoss:
			summary.TotalLoss += m.Quantity
		case MovementAdjustment:
			summary.TotalAdjustments += m.Quantity
		}
		summary.NetChange += m.Type.SignedDelta(m.Quantity)
	}
	return summary, nil
}

// ListMovements returns ledger entries matching the filter.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

// Reconcile replays the full ledger for a farm and repairs the cached batch
// balances and farm count where they drifted. The repair runs in a single
// transaction holding the farm row.
func (s *Service) Reconcile(ctx context.Context, farmID int64) (ReconcileReport, error) {
	if farmID <= 0 {
		return ReconcileReport{}, shared.Validationf("farm required")
	}
	movements, err := s.repo.ListMovements(ctx, MovementFilter{FarmID: farmID})
	if err != nil {
		return ReconcileReport{}, err
	}

	perBatch := make(map[int64][]Movement)
	for _, m := range movements {
		perBatch[m.BatchID] = append(perBatch[m.BatchID], m)
	}

	report := ReconcileReport{FarmID: farmID, BatchBalances: make(map[int64]int64, len(perBatch))}
	var farmTotal int64
	for batchID, ms := range perBatch {
		balance := Replay(ms)
		report.BatchBalances[batchID] = balance
		farmTotal += balance
	}
	report.FarmCount = farmTotal

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		farm, err := tx.GetFarmForUpdate(ctx, farmID)
		if err != nil {
			return err
		}
		report.PreviousFarmCount = farm.CurrentCount
		for batchID, balance := range report.BatchBalances {
			cached, err := tx.GetBalanceForUpdate(ctx, farmID, batchID)
			if err != nil && !errors.Is(err, ErrBalanceNotFound) {
				return err
			}
			if cached != balance {
				if err := tx.UpsertBalance(ctx, farmID, batchID, balance); err != nil {
					return err
				}
				report.RepairedBatches = append(report.RepairedBatches, batchID)
			}
		}
		if farm.CurrentCount != farmTotal {
			report.FarmCountRepaired = true
			return tx.SetFarmCount(ctx, farmID, farmTotal)
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	sort.Slice(report.RepairedBatches, func(i, j int) bool { return report.RepairedBatches[i] < report.RepairedBatches[j] })

	if report.FarmCountRepaired || len(report.RepairedBatches) > 0 {
		s.logger.Warn("ledger reconcile repaired drifted caches",
			slog.Int64("farm_id", farmID),
			slog.Int("repaired_batches", len(report.RepairedBatches)),
			slog.Bool("farm_count_repaired", report.FarmCountRepaired))
		if s.invalidator != nil {
			s.invalidator.Invalidate(ctx, farmID)
		}
	}
	return report, nil
}

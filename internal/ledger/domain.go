package ledger

import (
	"fmt"
	"time"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents birds arriving at a farm.
	MovementIn MovementType = "IN"
	// MovementOut represents birds dispatched from a farm.
	MovementOut MovementType = "OUT"
	// MovementLoss represents mortality or culling.
	MovementLoss MovementType = "LOSS"
	// MovementAdjustment carries a caller-signed correction delta.
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// Valid reports whether the movement type is known.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementLoss, MovementAdjustment:
		return true
	}
	return false
}

// SignedDelta applies the sign convention: In adds, Out and Loss subtract,
// Adjustment passes the caller-signed quantity through.
func (t MovementType) SignedDelta(quantity int64) int64 {
	switch t {
	case MovementOut, MovementLoss:
		return -quantity
	default:
		return quantity
	}
}

// Movement is an immutable ledger entry for a (farm, batch) pair.
// Correcting a mistake requires a new Adjustment entry, never an edit.
type Movement struct {
	ID               int64        `json:"id"`
	Code             string       `json:"code"`
	FarmID           int64        `json:"farm_id"`
	BatchID          int64        `json:"batch_id"`
	Type             MovementType `json:"type"`
	Quantity         int64        `json:"quantity"`
	PreviousQuantity int64        `json:"previous_quantity"`
	NewQuantity      int64        `json:"new_quantity"`
	Reason           string       `json:"reason,omitempty"`
	OccurredAt       time.Time    `json:"occurred_at"`
	RecordedBy       int64        `json:"recorded_by"`
	CreatedAt        time.Time    `json:"created_at"`
}

// RecordMovementInput describes a request to append a ledger entry.
//
// Code doubles as the idempotency key: a retried request carrying the same
// code is rejected as a duplicate. When Code is empty a fresh one is
// generated and the request gets no replay protection.
type RecordMovementInput struct {
	Code       string       `json:"code" validate:"omitempty,max=64"`
	FarmID     int64        `json:"farm_id" validate:"required,gt=0"`
	BatchID    int64        `json:"batch_id" validate:"required,gt=0"`
	Type       MovementType `json:"type" validate:"required,oneof=IN OUT LOSS ADJUSTMENT"`
	Quantity   int64        `json:"quantity" validate:"required"`
	Reason     string       `json:"reason,omitempty" validate:"max=500"`
	OccurredAt time.Time    `json:"occurred_at,omitempty"`
	ActorID    int64        `json:"-"`
}

// Summary aggregates movements for a farm over a date range.
type Summary struct {
	FarmID           int64 `json:"farm_id"`
	TotalIn          int64 `json:"total_in"`
	TotalOut         int64 `json:"total_out"`
	TotalLoss        int64 `json:"total_loss"`
	TotalAdjustments int64 `json:"total_adjustments"`
	NetChange        int64 `json:"net_change"`
}

// MovementFilter narrows movement listings. Zero fields are ignored.
type MovementFilter struct {
	FarmID  int64
	BatchID int64
	From    time.Time
	To      time.Time
	Limit   int
}

// ReconcileReport describes the outcome of a ledger replay against the
// cached balances. The ledger is the source of truth; the caches are an
// optimisation that must stay provably derivable.
type ReconcileReport struct {
	FarmID            int64           `json:"farm_id"`
	BatchBalances     map[int64]int64 `json:"batch_balances"`
	RepairedBatches   []int64         `json:"repaired_batches,omitempty"`
	PreviousFarmCount int64           `json:"previous_farm_count"`
	FarmCount         int64           `json:"farm_count"`
	FarmCountRepaired bool            `json:"farm_count_repaired"`
}

// Domain failures. Each wraps the shared taxonomy so the HTTP layer maps
// them without importing this package's specifics.
var (
	ErrNegativeStock    = fmt.Errorf("%w: movement would drive stock negative", shared.ErrInvalidOperation)
	ErrCapacityExceeded = fmt.Errorf("%w: farm capacity exceeded", shared.ErrInvalidOperation)
	ErrFarmNotFound     = fmt.Errorf("%w: farm", shared.ErrNotFound)
	ErrBatchNotFound    = fmt.Errorf("%w: batch", shared.ErrNotFound)
	ErrFarmInactive     = fmt.Errorf("%w: farm is inactive", shared.ErrInvalidOperation)
	ErrBatchDeleted     = fmt.Errorf("%w: batch is deleted", shared.ErrInvalidOperation)
	ErrInvalidQuantity  = fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
)

package batches

import (
	"fmt"
	"time"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// BatchStatus tracks a batch through the distribution pipeline. Transitions
// only move forward through the declared order; there is no way back.
type BatchStatus string

const (
	StatusPurchased            BatchStatus = "PURCHASED"
	StatusInFarm               BatchStatus = "IN_FARM"
	StatusReadyForDistribution BatchStatus = "READY_FOR_DISTRIBUTION"
	StatusInTransit            BatchStatus = "IN_TRANSIT"
	StatusDelivered            BatchStatus = "DELIVERED"
)

var statusRank = map[BatchStatus]int{
	StatusPurchased:            0,
	StatusInFarm:               1,
	StatusReadyForDistribution: 2,
	StatusInTransit:            3,
	StatusDelivered:            4,
}

// Valid reports whether the status is known.
func (s BatchStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether the transition moves strictly forward.
func (s BatchStatus) CanAdvanceTo(next BatchStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// HealthStatus is the veterinary condition of a batch.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "HEALTHY"
	HealthSick        HealthStatus = "SICK"
	HealthQuarantined HealthStatus = "QUARANTINED"
)

// Batch is a purchased lot of chickens tracked as one unit. Quantity is
// fixed at creation; available stock is always derived from the ledger.
type Batch struct {
	ID           int64        `json:"id"`
	TenantID     int64        `json:"tenant_id,omitempty"`
	Code         string       `json:"code"`
	SupplierID   int64        `json:"supplier_id"`
	FarmID       *int64       `json:"farm_id,omitempty"`
	PurchaseDate time.Time    `json:"purchase_date"`
	Quantity     int64        `json:"quantity"`
	AgeDays      int          `json:"age_days"`
	WeightKg     float64      `json:"weight_kg"`
	Status       BatchStatus  `json:"status"`
	Health       HealthStatus `json:"health_status"`
	DeletedAt    *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Deleted reports whether the batch is soft-deleted.
func (b Batch) Deleted() bool {
	return b.DeletedAt != nil
}

// CreateBatchInput describes a purchase.
type CreateBatchInput struct {
	Code         string    `json:"code" validate:"omitempty,max=64"`
	SupplierID   int64     `json:"supplier_id" validate:"required,gt=0"`
	FarmID       *int64    `json:"farm_id,omitempty" validate:"omitempty,gt=0"`
	PurchaseDate time.Time `json:"purchase_date" validate:"required"`
	Quantity     int64     `json:"quantity" validate:"required,gt=0"`
	AgeDays      int       `json:"age_days" validate:"gte=0"`
	WeightKg     float64   `json:"weight_kg" validate:"gte=0"`
}

// ListFilter narrows batch listings. Reads exclude soft-deleted rows unless
// IncludeDeleted is set explicitly.
type ListFilter struct {
	TenantID       int64
	FarmID         int64
	Status         BatchStatus
	IncludeDeleted bool
	Page           int
	PerPage        int
}

var (
	ErrBatchNotFound      = fmt.Errorf("%w: batch", shared.ErrNotFound)
	ErrBackwardTransition = fmt.Errorf("%w: batch status cannot move backward", shared.ErrInvalidOperation)
)

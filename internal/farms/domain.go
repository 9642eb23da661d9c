package farms

import (
	"fmt"
	"time"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// Farm is a physical facility with a fixed capacity ceiling. current_count is
// a cache of the farm's net ledger balance; the ledger repairs it on drift.
type Farm struct {
	ID           int64     `json:"id"`
	TenantID     int64     `json:"tenant_id,omitempty"`
	Name         string    `json:"name"`
	Location     string    `json:"location,omitempty"`
	Capacity     int64     `json:"capacity"`
	CurrentCount int64     `json:"current_count"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateFarmInput describes a request to register a farm.
type CreateFarmInput struct {
	Name     string `json:"name" validate:"required,max=200"`
	Location string `json:"location,omitempty" validate:"max=300"`
	Capacity int64  `json:"capacity" validate:"required,gt=0"`
}

// UpdateFarmInput carries optional field updates.
type UpdateFarmInput struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Location *string `json:"location,omitempty" validate:"omitempty,max=300"`
	Capacity *int64  `json:"capacity,omitempty" validate:"omitempty,gt=0"`
	Active   *bool   `json:"active,omitempty"`
}

// BatchStock is one row of a farm's per-batch inventory breakdown.
// Available is the batch quantity not yet committed to a Pending or
// Delivered distribution item.
type BatchStock struct {
	BatchID           int64  `json:"batch_id"`
	BatchCode         string `json:"batch_code"`
	TotalQuantity     int64  `json:"total_quantity"`
	CommittedQuantity int64  `json:"committed_quantity"`
	AvailableQuantity int64  `json:"available_quantity"`
}

// Inventory is the derived capacity view of a farm. AvailableStock equals
// CurrentStock: there is no separate reservation concept.
type Inventory struct {
	FarmID         int64        `json:"farm_id"`
	Capacity       int64        `json:"capacity"`
	CurrentStock   int64        `json:"current_stock"`
	AvailableStock int64        `json:"available_stock"`
	Batches        []BatchStock `json:"batches"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

// ListFilter narrows farm listings. TenantID zero means unscoped.
type ListFilter struct {
	TenantID        int64
	IncludeInactive bool
	Page            int
	PerPage         int
}

// ErrFarmNotFound indicates the farm is absent.
var ErrFarmNotFound = fmt.Errorf("%w: farm", shared.ErrNotFound)

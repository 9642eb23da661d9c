package distribution

import (
	"fmt"
	"time"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// Status is the distribution run lifecycle. Scheduled runs move to InTransit
// then Completed; Cancelled is reachable from Scheduled and InTransit only.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether the move is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInTransit, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ItemStatus tracks one distribution line.
type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemDelivered ItemStatus = "DELIVERED"
	ItemReturned  ItemStatus = "RETURNED"
)

// DeliveryStatus is the shop-side reconciliation state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryCompleted DeliveryStatus = "COMPLETED"
	DeliveryPartial   DeliveryStatus = "PARTIAL"
	DeliveryCancelled DeliveryStatus = "CANCELLED"
)

// Distribution is a scheduled vehicle run carrying batch quantities to shops.
type Distribution struct {
	ID            int64     `json:"id"`
	TenantID      int64     `json:"tenant_id,omitempty"`
	Code          string    `json:"code"`
	VehicleID     int64     `json:"vehicle_id"`
	Status        Status    `json:"status"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Items         []Item    `json:"items,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Item is one line of a distribution: a batch quantity bound for a shop.
type Item struct {
	ID             int64      `json:"id"`
	DistributionID int64      `json:"distribution_id"`
	BatchID        int64      `json:"batch_id"`
	ShopID         int64      `json:"shop_id"`
	Quantity       int64      `json:"quantity"`
	Status         ItemStatus `json:"status"`
}

// Delivery is the shop-side record of one distribution leg: what was
// dispatched against what the shop confirms received.
type Delivery struct {
	ID               int64          `json:"id"`
	DistributionID   int64          `json:"distribution_id"`
	ShopID           int64          `json:"shop_id"`
	TotalQuantity    int64          `json:"total_quantity"`
	VerifiedQuantity int64          `json:"verified_quantity"`
	Status           DeliveryStatus `json:"status"`
	VerifiedAt       *time.Time     `json:"verified_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// CreateDistributionInput schedules a run.
type CreateDistributionInput struct {
	Code          string            `json:"code" validate:"omitempty,max=64"`
	VehicleID     int64             `json:"vehicle_id" validate:"required,gt=0"`
	ScheduledDate time.Time         `json:"scheduled_date" validate:"required"`
	Items         []CreateItemInput `json:"items" validate:"required,min=1,dive"`
}

// CreateItemInput is one requested line.
type CreateItemInput struct {
	BatchID  int64 `json:"batch_id" validate:"required,gt=0"`
	ShopID   int64 `json:"shop_id" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

// ListFilter narrows distribution listings.
type ListFilter struct {
	TenantID  int64
	VehicleID int64
	Status    Status
	Page      int
	PerPage   int
}

var (
	ErrDistributionNotFound = fmt.Errorf("%w: distribution", shared.ErrNotFound)
	ErrDeliveryNotFound     = fmt.Errorf("%w: delivery", shared.ErrNotFound)
	ErrVehicleNotFound      = fmt.Errorf("%w: vehicle", shared.ErrNotFound)
	ErrVehicleInactive      = fmt.Errorf("%w: vehicle is inactive", shared.ErrInvalidOperation)
	ErrIllegalTransition    = fmt.Errorf("%w: illegal distribution transition", shared.ErrInvalidOperation)
	ErrInsufficientStock    = fmt.Errorf("%w: insufficient available stock", shared.ErrInvalidOperation)
	ErrOverVerified         = fmt.Errorf("%w: verified quantity exceeds dispatched total", shared.ErrInvalidOperation)
	ErrDeliverySettled      = fmt.Errorf("%w: delivery already settled", shared.ErrInvalidOperation)
)

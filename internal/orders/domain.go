package orders

import (
	"fmt"
	"time"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// Status is the order lifecycle state. Pending orders can be approved,
// rejected or cancelled; approved orders move through fulfillment. Rejected,
// Fulfilled and Cancelled are terminal.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusApproved           Status = "APPROVED"
	StatusRejected           Status = "REJECTED"
	StatusProcessing         Status = "PROCESSING"
	StatusPartiallyFulfilled Status = "PARTIALLY_FULFILLED"
	StatusFulfilled          Status = "FULFILLED"
	StatusCancelled          Status = "CANCELLED"
)

// Terminal reports whether no further transition is legal.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusFulfilled, StatusCancelled:
		return true
	}
	return false
}

// FulfillmentStatus is derived from the items, never set directly.
type FulfillmentStatus string

const (
	FulfillmentNone     FulfillmentStatus = "NONE"
	FulfillmentPartial  FulfillmentStatus = "PARTIAL"
	FulfillmentComplete FulfillmentStatus = "COMPLETE"
)

// Order is a shop's request for chicken batches.
type Order struct {
	ID                int64             `json:"id"`
	TenantID          int64             `json:"tenant_id,omitempty"`
	Code              string            `json:"code"`
	ShopID            int64             `json:"shop_id"`
	Status            Status            `json:"status"`
	Fulfillment       FulfillmentStatus `json:"fulfillment_status"`
	TotalAmount       float64           `json:"total_amount"`
	RequestedDelivery time.Time         `json:"requested_delivery_date"`
	CreatedBy         int64             `json:"created_by,omitempty"`
	ApprovedBy        int64             `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time        `json:"approved_at,omitempty"`
	RejectedBy        int64             `json:"rejected_by,omitempty"`
	RejectionReason   string            `json:"rejection_reason,omitempty"`
	CancelledBy       int64             `json:"cancelled_by,omitempty"`
	Items             []Item            `json:"items,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Item is one order line. FulfilledQuantity only ever grows, up to
// RequestedQuantity.
type Item struct {
	ID                int64   `json:"id"`
	OrderID           int64   `json:"order_id"`
	BatchID           int64   `json:"batch_id"`
	FarmID            int64   `json:"farm_id"`
	RequestedQuantity int64   `json:"requested_quantity"`
	FulfilledQuantity int64   `json:"fulfilled_quantity"`
	UnitPrice         float64 `json:"unit_price"`
}

// CreateOrderInput describes a new order. Unit prices come from the caller;
// pricing is an external concern.
type CreateOrderInput struct {
	Code              string            `json:"code" validate:"omitempty,max=64"`
	ShopID            int64             `json:"shop_id" validate:"required,gt=0"`
	RequestedDelivery time.Time         `json:"requested_delivery_date" validate:"required"`
	Items             []CreateItemInput `json:"items" validate:"required,min=1,dive"`
}

// CreateItemInput is one requested line.
type CreateItemInput struct {
	BatchID           int64   `json:"batch_id" validate:"required,gt=0"`
	FarmID            int64   `json:"farm_id" validate:"required,gt=0"`
	RequestedQuantity int64   `json:"requested_quantity" validate:"required,gt=0"`
	UnitPrice         float64 `json:"unit_price" validate:"gte=0"`
}

// FulfillmentUpdate sets the cumulative fulfilled quantity for one item.
type FulfillmentUpdate struct {
	OrderItemID       int64 `json:"order_item_id" validate:"required,gt=0"`
	FulfilledQuantity int64 `json:"fulfilled_quantity" validate:"gte=0"`
}

// ListFilter narrows order listings.
type ListFilter struct {
	TenantID int64
	ShopID   int64
	Status   Status
	Page     int
	PerPage  int
}

// DeriveFulfillment computes the order-level fulfillment status from its
// items: None if nothing is fulfilled, Complete if every item is fully
// fulfilled, Partial otherwise.
func DeriveFulfillment(items []Item) FulfillmentStatus {
	if len(items) == 0 {
		return FulfillmentNone
	}
	allZero := true
	allComplete := true
	for _, item := range items {
		if item.FulfilledQuantity > 0 {
			allZero = false
		}
		if item.FulfilledQuantity < item.RequestedQuantity {
			allComplete = false
		}
	}
	switch {
	case allZero:
		return FulfillmentNone
	case allComplete:
		return FulfillmentComplete
	default:
		return FulfillmentPartial
	}
}

var (
	ErrOrderNotFound     = fmt.Errorf("%w: order", shared.ErrNotFound)
	ErrItemNotFound      = fmt.Errorf("%w: order item", shared.ErrNotFound)
	ErrNotPending        = fmt.Errorf("%w: order is not pending", shared.ErrInvalidOperation)
	ErrTerminalState     = fmt.Errorf("%w: order is in a terminal state", shared.ErrInvalidOperation)
	ErrNotFulfillable    = fmt.Errorf("%w: order is not accepting fulfillment", shared.ErrInvalidOperation)
	ErrFulfillmentShrank = fmt.Errorf("%w: fulfilled quantity cannot decrease", shared.ErrInvalidOperation)
	ErrOverFulfilled     = fmt.Errorf("%w: fulfilled quantity exceeds requested", shared.ErrInvalidOperation)
	ErrInsufficientStock = fmt.Errorf("%w: insufficient available stock", shared.ErrInvalidOperation)
)

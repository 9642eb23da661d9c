package sales

import (
	"fmt"
	"time"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// PaymentStatus is derived from the cumulative payments, never set directly.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPartial PaymentStatus = "PARTIAL"
	PaymentPaid    PaymentStatus = "PAID"
)

// DerivePaymentStatus computes the status from paid against total.
func DerivePaymentStatus(paid, total float64) PaymentStatus {
	switch {
	case paid >= total && total > 0:
		return PaymentPaid
	case paid > 0:
		return PaymentPartial
	default:
		return PaymentPending
	}
}

// Sale bills a delivery. PaidAmount and RemainingAmount are derived from the
// payments on every read; the stored payment_status is a cache of the same
// derivation.
type Sale struct {
	ID              int64         `json:"id"`
	TenantID        int64         `json:"tenant_id,omitempty"`
	Code            string        `json:"code"`
	DeliveryID      int64         `json:"delivery_id"`
	ShopID          int64         `json:"shop_id"`
	Quantity        int64         `json:"quantity"`
	UnitPrice       float64       `json:"unit_price"`
	TotalAmount     float64       `json:"total_amount"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	PaidAmount      float64       `json:"paid_amount"`
	RemainingAmount float64       `json:"remaining_amount"`
	Payments        []Payment     `json:"payments,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Payment is one partial payment against a sale.
type Payment struct {
	ID       int64     `json:"id"`
	SaleID   int64     `json:"sale_id"`
	Amount   float64   `json:"amount"`
	Method   string    `json:"method,omitempty"`
	PaidAt   time.Time `json:"paid_at"`
	Recorded time.Time `json:"recorded_at"`
}

// CreateSaleInput bills a verified delivery at a caller-supplied unit price.
type CreateSaleInput struct {
	Code       string  `json:"code" validate:"omitempty,max=64"`
	DeliveryID int64   `json:"delivery_id" validate:"required,gt=0"`
	UnitPrice  float64 `json:"unit_price" validate:"required,gt=0"`
}

// RecordPaymentInput is one payment against a sale.
type RecordPaymentInput struct {
	Amount float64   `json:"amount" validate:"required,gt=0"`
	Method string    `json:"method" validate:"omitempty,max=32"`
	PaidAt time.Time `json:"paid_at"`
}

// ListFilter narrows sale listings.
type ListFilter struct {
	TenantID int64
	ShopID   int64
	Status   PaymentStatus
	Page     int
	PerPage  int
}

var (
	ErrSaleNotFound        = fmt.Errorf("%w: sale", shared.ErrNotFound)
	ErrDeliveryNotFound    = fmt.Errorf("%w: delivery", shared.ErrNotFound)
	ErrDeliveryNotBilled   = fmt.Errorf("%w: delivery has no verified quantity to bill", shared.ErrInvalidOperation)
	ErrDeliveryCancelled   = fmt.Errorf("%w: cancelled delivery cannot be billed", shared.ErrInvalidOperation)
	ErrDeliveryAlreadySold = fmt.Errorf("%w: delivery already billed", shared.ErrInvalidOperation)
	ErrOverPayment         = fmt.Errorf("%w: payment exceeds remaining balance", shared.ErrInvalidOperation)
)

// Package notify carries fire-and-forget business notifications out of the
// core workflows. Dispatch failures are never fatal to the calling operation.
package notify

import (
	"context"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Event types emitted by the workflows.
const (
	EventOrderApproved     = "order.approved"
	EventOrderRejected     = "order.rejected"
	EventOrderFulfilled    = "order.fulfilled"
	EventDeliveryScheduled = "delivery.scheduled"
	EventPaymentDue        = "payment.due"
)

// Event is one outbound notification.
type Event struct {
	Type      string         `json:"type"`
	TenantID  int64          `json:"tenant_id,omitempty"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Recipient string         `json:"recipient,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Dispatcher sends events. Callers treat errors as non-fatal.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// Noop discards every event. Useful in tests and when no broker is wired.
type Noop struct{}

func (Noop) Dispatch(context.Context, Event) error { return nil }

// printer renders quantities and amounts with digit grouping for message
// bodies shown to people.
var printer = message.NewPrinter(language.English)

// FormatUnits renders a unit count for a notification body.
func FormatUnits(n int64) string {
	return printer.Sprintf("%d units", n)
}

// FormatAmount renders a monetary amount for a notification body.
func FormatAmount(v float64) string {
	return printer.Sprintf("%.2f", v)
}

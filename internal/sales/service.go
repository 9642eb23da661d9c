package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pluma-erp/pluma-erp/internal/notify"
	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// BilledDelivery is the slice of a delivery needed to open a sale. Cancelled
// deliveries keep their verified quantity but must never be billed; completed
// ones stay billable.
type BilledDelivery struct {
	ID               int64
	ShopID           int64
	VerifiedQuantity int64
	Cancelled        bool
}

// TxRepository exposes the row-locked operations executed inside one
// transaction per billing or payment call.
type TxRepository interface {
	GetDelivery(ctx context.Context, deliveryID int64) (BilledDelivery, error)
	SaleExistsForDelivery(ctx context.Context, deliveryID int64) (bool, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	GetSaleForUpdate(ctx context.Context, saleID int64) (Sale, error)
	SumPayments(ctx context.Context, saleID int64) (float64, error)
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	SetPaymentStatus(ctx context.Context, saleID int64, status PaymentStatus) error
}

// RepositoryPort abstracts sale persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, saleID int64) (Sale, error)
	List(ctx context.Context, filter ListFilter) ([]Sale, int, error)
	ListUnpaid(ctx context.Context) ([]Sale, error)
}

// AuditPort abstracts audit logging. Failures are logged and swallowed.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates billing and payment reconciliation.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	dispatcher notify.Dispatcher
	logger     *slog.Logger
}

// NewService builds Service. audit and dispatcher may be nil.
func NewService(repo RepositoryPort, audit AuditPort, dispatcher notify.Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = notify.Noop{}
	}
	return &Service{repo: repo, audit: audit, dispatcher: dispatcher, logger: logger}
}

// CreateFromDelivery bills a delivery's verified quantity at the given unit
// price. A delivery is billed at most once, and only once the shop has
// verified something.
func (s *Service) CreateFromDelivery(ctx context.Context, input CreateSaleInput) (Sale, error) {
	if input.UnitPrice <= 0 {
		return Sale{}, shared.Validationf("unit price must be positive")
	}
	code := input.Code
	if code == "" {
		code = fmt.Sprintf("SALE-%s", uuid.NewString())
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		delivery, err := tx.GetDelivery(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		if delivery.Cancelled {
			return ErrDeliveryCancelled
		}
		if delivery.VerifiedQuantity <= 0 {
			return ErrDeliveryNotBilled
		}
		exists, err := tx.SaleExistsForDelivery(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDeliveryAlreadySold
		}

		id, err = tx.InsertSale(ctx, Sale{
			TenantID:      shared.TenantFromContext(ctx),
			Code:          code,
			DeliveryID:    delivery.ID,
			ShopID:        delivery.ShopID,
			Quantity:      delivery.VerifiedQuantity,
			UnitPrice:     input.UnitPrice,
			TotalAmount:   float64(delivery.VerifiedQuantity) * input.UnitPrice,
			PaymentStatus: PaymentPending,
		})
		return err
	})
	if err != nil {
		return Sale{}, err
	}

	s.recordAudit(ctx, "sale:create", id, map[string]any{"code": code, "delivery_id": input.DeliveryID})
	return s.repo.Get(ctx, id)
}

// Get returns a sale with derived paid/remaining amounts.
func (s *Service) Get(ctx context.Context, saleID int64) (Sale, error) {
	return s.repo.Get(ctx, saleID)
}

// List returns sales scoped to the tenant in context.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, shared.Pagination, error) {
	filter.TenantID = shared.TenantFromContext(ctx)
	list, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// RecordPayment applies one payment against a sale. The cumulative total may
// never exceed the sale amount, and the payment status is recomputed from
// the new cumulative sum in the same transaction.
func (s *Service) RecordPayment(ctx context.Context, saleID int64, input RecordPaymentInput) (Sale, error) {
	if input.Amount <= 0 {
		return Sale{}, shared.Validationf("payment amount must be positive")
	}
	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		paid, err := tx.SumPayments(ctx, saleID)
		if err != nil {
			return err
		}
		if paid+input.Amount > sale.TotalAmount {
			return fmt.Errorf("%w: %s paid + %s > %s total",
				ErrOverPayment, notify.FormatAmount(paid), notify.FormatAmount(input.Amount),
				notify.FormatAmount(sale.TotalAmount))
		}

		if _, err := tx.InsertPayment(ctx, Payment{
			SaleID: saleID,
			Amount: input.Amount,
			Method: input.Method,
			PaidAt: paidAt,
		}); err != nil {
			return err
		}
		return tx.SetPaymentStatus(ctx, saleID, DerivePaymentStatus(paid+input.Amount, sale.TotalAmount))
	})
	if err != nil {
		return Sale{}, err
	}

	s.recordAudit(ctx, "sale:payment", saleID, map[string]any{"amount": input.Amount})
	return s.repo.Get(ctx, saleID)
}

// RemindUnpaid dispatches a payment-due notification for every sale that is
// not fully paid. Called from the scheduled reminder job.
func (s *Service) RemindUnpaid(ctx context.Context) (int, error) {
	unpaid, err := s.repo.ListUnpaid(ctx)
	if err != nil {
		return 0, err
	}
	for _, sale := range unpaid {
		event := notify.Event{
			Type:     notify.EventPaymentDue,
			TenantID: sale.TenantID,
			Subject:  fmt.Sprintf("Payment due on sale %s", sale.Code),
			Body: fmt.Sprintf("%s outstanding of %s total",
				notify.FormatAmount(sale.RemainingAmount), notify.FormatAmount(sale.TotalAmount)),
			Meta: map[string]any{"sale_id": sale.ID, "shop_id": sale.ShopID},
		}
		if err := s.dispatcher.Dispatch(ctx, event); err != nil {
			s.logger.Warn("payment reminder dispatch failed", slog.Any("error", err), slog.Int64("sale_id", sale.ID))
		}
	}
	return len(unpaid), nil
}

func (s *Service) recordAudit(ctx context.Context, action string, saleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor := shared.ActorFromContext(ctx)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		TenantID: shared.TenantFromContext(ctx),
		Action:   action,
		Entity:   "sale",
		EntityID: fmt.Sprintf("%d", saleID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

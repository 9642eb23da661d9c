package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pluma-erp/pluma-erp/internal/notify"
	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// TxRepository exposes the row-locked operations executed inside one
// transaction per workflow transition. Implementations must hold the order
// row under FOR UPDATE until commit.
type TxRepository interface {
	GetForUpdate(ctx context.Context, orderID int64) (Order, error)
	SetApproval(ctx context.Context, orderID, approver int64, at time.Time) error
	SetRejection(ctx context.Context, orderID, rejecter int64, reason string) error
	SetCancelled(ctx context.Context, orderID, canceller int64) error
	SetItemFulfilled(ctx context.Context, itemID, quantity int64) error
	SetStatuses(ctx context.Context, orderID int64, status Status, fulfillment FulfillmentStatus) error
}

// RepositoryPort abstracts order persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Insert(ctx context.Context, order Order) (int64, error)
	Get(ctx context.Context, orderID int64) (Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
}

// StockChecker reads currently available stock for a (farm, batch) pair.
// Order creation uses it as a read-only check, not a reservation.
type StockChecker interface {
	AvailableStock(ctx context.Context, farmID, batchID int64) (int64, error)
}

// AuditPort abstracts audit logging. Failures are logged and swallowed.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the order workflow.
type Service struct {
	repo       RepositoryPort
	stock      StockChecker
	audit      AuditPort
	dispatcher notify.Dispatcher
	logger     *slog.Logger
}

// NewService builds Service. stock, audit and dispatcher may be nil.
func NewService(repo RepositoryPort, stock StockChecker, audit AuditPort, dispatcher notify.Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = notify.Noop{}
	}
	return &Service{repo: repo, stock: stock, audit: audit, dispatcher: dispatcher, logger: logger}
}

// Create registers a pending order after a read-only stock check per item.
// The check is advisory: stock is not held, and may be gone by fulfillment
// time.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (Order, error) {
	if len(input.Items) == 0 {
		return Order{}, shared.Validationf("order needs at least one item")
	}
	for i, item := range input.Items {
		if item.RequestedQuantity <= 0 {
			return Order{}, shared.Validationf("item %d: requested quantity must be positive", i)
		}
		if s.stock != nil {
			available, err := s.stock.AvailableStock(ctx, item.FarmID, item.BatchID)
			if err != nil {
				return Order{}, err
			}
			if available < item.RequestedQuantity {
				return Order{}, fmt.Errorf("%w: batch %d has %d, requested %d",
					ErrInsufficientStock, item.BatchID, available, item.RequestedQuantity)
			}
		}
	}

	code := input.Code
	if code == "" {
		code = fmt.Sprintf("ORD-%s", uuid.NewString())
	}
	actor := shared.ActorFromContext(ctx)
	order := Order{
		TenantID:          shared.TenantFromContext(ctx),
		Code:              code,
		ShopID:            input.ShopID,
		Status:            StatusPending,
		Fulfillment:       FulfillmentNone,
		RequestedDelivery: input.RequestedDelivery,
		CreatedBy:         actor.UserID,
	}
	for _, item := range input.Items {
		order.TotalAmount += float64(item.RequestedQuantity) * item.UnitPrice
		order.Items = append(order.Items, Item{
			BatchID:           item.BatchID,
			FarmID:            item.FarmID,
			RequestedQuantity: item.RequestedQuantity,
			UnitPrice:         item.UnitPrice,
		})
	}

	id, err := s.repo.Insert(ctx, order)
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "order:create", id, map[string]any{"code": code, "items": len(order.Items)})
	return s.repo.Get(ctx, id)
}

// Get returns an order with its items.
func (s *Service) Get(ctx context.Context, orderID int64) (Order, error) {
	return s.repo.Get(ctx, orderID)
}

// List returns orders scoped to the tenant in context.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, shared.Pagination, error) {
	filter.TenantID = shared.TenantFromContext(ctx)
	list, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Approve moves a pending order to approved, recording who approved it.
func (s *Service) Approve(ctx context.Context, orderID int64) (Order, error) {
	actor := shared.ActorFromContext(ctx)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return fmt.Errorf("%w: status is %s", ErrNotPending, order.Status)
		}
		return tx.SetApproval(ctx, orderID, actor.UserID, time.Now().UTC())
	})
	if err != nil {
		return Order{}, err
	}

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "order:approve", orderID, nil)
	s.notify(ctx, notify.EventOrderApproved, order, fmt.Sprintf("Order %s approved", order.Code))
	return order, nil
}

// Reject moves a pending order to rejected with a reason.
func (s *Service) Reject(ctx context.Context, orderID int64, reason string) (Order, error) {
	if reason == "" {
		return Order{}, shared.Validationf("rejection reason required")
	}
	actor := shared.ActorFromContext(ctx)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return fmt.Errorf("%w: status is %s", ErrNotPending, order.Status)
		}
		return tx.SetRejection(ctx, orderID, actor.UserID, reason)
	})
	if err != nil {
		return Order{}, err
	}

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "order:reject", orderID, map[string]any{"reason": reason})
	s.notify(ctx, notify.EventOrderRejected, order, fmt.Sprintf("Order %s rejected: %s", order.Code, reason))
	return order, nil
}

// UpdateFulfillment records cumulative fulfilled quantities for some of the
// order's items. Quantities never decrease and never exceed the requested
// amount. The order's fulfillment status is recomputed from all items, and
// the order status is promoted to PartiallyFulfilled or Fulfilled to match.
//
// Fulfillment does not touch the stock ledger: dispatched stock leaves the
// farm through distribution OUT movements, not through this bookkeeping.
func (s *Service) UpdateFulfillment(ctx context.Context, orderID int64, updates []FulfillmentUpdate) (Order, error) {
	if len(updates) == 0 {
		return Order{}, shared.Validationf("no fulfillment updates given")
	}

	var fulfilled FulfillmentStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case StatusApproved, StatusProcessing, StatusPartiallyFulfilled:
		default:
			return fmt.Errorf("%w: status is %s", ErrNotFulfillable, order.Status)
		}

		items := make(map[int64]*Item, len(order.Items))
		for i := range order.Items {
			items[order.Items[i].ID] = &order.Items[i]
		}
		for _, update := range updates {
			item, ok := items[update.OrderItemID]
			if !ok {
				return fmt.Errorf("%w: %d", ErrItemNotFound, update.OrderItemID)
			}
			if update.FulfilledQuantity < item.FulfilledQuantity {
				return fmt.Errorf("%w: item %d has %d, got %d",
					ErrFulfillmentShrank, item.ID, item.FulfilledQuantity, update.FulfilledQuantity)
			}
			if update.FulfilledQuantity > item.RequestedQuantity {
				return fmt.Errorf("%w: item %d requested %d, got %d",
					ErrOverFulfilled, item.ID, item.RequestedQuantity, update.FulfilledQuantity)
			}
			item.FulfilledQuantity = update.FulfilledQuantity
			if err := tx.SetItemFulfilled(ctx, item.ID, update.FulfilledQuantity); err != nil {
				return err
			}
		}

		fulfilled = DeriveFulfillment(order.Items)
		status := order.Status
		switch fulfilled {
		case FulfillmentComplete:
			status = StatusFulfilled
		case FulfillmentPartial:
			if status == StatusApproved || status == StatusProcessing {
				status = StatusPartiallyFulfilled
			}
		}
		return tx.SetStatuses(ctx, orderID, status, fulfilled)
	})
	if err != nil {
		return Order{}, err
	}

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "order:fulfill", orderID, map[string]any{"fulfillment": fulfilled})
	if fulfilled == FulfillmentComplete {
		s.notify(ctx, notify.EventOrderFulfilled, order, fmt.Sprintf("Order %s fully fulfilled", order.Code))
	}
	return order, nil
}

// Cancel stops a non-terminal order. There is no un-cancel.
func (s *Service) Cancel(ctx context.Context, orderID int64) (Order, error) {
	actor := shared.ActorFromContext(ctx)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: status is %s", ErrTerminalState, order.Status)
		}
		return tx.SetCancelled(ctx, orderID, actor.UserID)
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "order:cancel", orderID, nil)
	return s.repo.Get(ctx, orderID)
}

func (s *Service) notify(ctx context.Context, eventType string, order Order, body string) {
	event := notify.Event{
		Type:     eventType,
		TenantID: order.TenantID,
		Subject:  fmt.Sprintf("Order %s", order.Code),
		Body:     body,
		Meta:     map[string]any{"order_id": order.ID, "shop_id": order.ShopID},
	}
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.logger.Warn("notification dispatch failed", slog.Any("error", err), slog.String("type", eventType))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor := shared.ActorFromContext(ctx)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		TenantID: shared.TenantFromContext(ctx),
		Action:   action,
		Entity:   "order",
		EntityID: fmt.Sprintf("%d", orderID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

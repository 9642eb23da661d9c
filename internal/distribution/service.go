package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pluma-erp/pluma-erp/internal/notify"
	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// VehicleState is the slice of a vehicle needed for scheduling checks.
type VehicleState struct {
	ID     int64
	Active bool
}

// TxRepository exposes the operations executed inside one transaction per
// scheduling or reconciliation call.
type TxRepository interface {
	GetVehicle(ctx context.Context, vehicleID int64) (VehicleState, error)
	// BatchAvailability is the batch's total ledger balance minus quantity
	// already committed to Pending or Delivered distribution items.
	BatchAvailability(ctx context.Context, batchID int64) (int64, error)
	InsertDistribution(ctx context.Context, d Distribution) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	InsertDelivery(ctx context.Context, delivery Delivery) (int64, error)
	GetDistributionForUpdate(ctx context.Context, id int64) (Distribution, error)
	SetDistributionStatus(ctx context.Context, id int64, status Status) error
	GetDeliveryForUpdate(ctx context.Context, id int64) (Delivery, error)
	SetDeliveryVerification(ctx context.Context, id, verified int64, status DeliveryStatus, at time.Time) error
	SetDeliveryStatus(ctx context.Context, id int64, status DeliveryStatus) error
	SetItemsStatusForShop(ctx context.Context, distributionID, shopID int64, status ItemStatus) error
}

// RepositoryPort abstracts distribution persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Distribution, error)
	List(ctx context.Context, filter ListFilter) ([]Distribution, int, error)
	GetDelivery(ctx context.Context, id int64) (Delivery, error)
	ListDeliveries(ctx context.Context, distributionID int64) ([]Delivery, error)
}

// AuditPort abstracts audit logging. Failures are logged and swallowed.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates distribution scheduling and delivery reconciliation.
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

// Create schedules a distribution run. Availability is checked per batch
// across all lines: the sum of requested quantities for a batch must not
// exceed that batch's uncommitted ledger balance. One Delivery record is
// opened per destination shop.
func (s *Service) Create(ctx context.Context, input CreateDistributionInput) (Distribution, error) {
	if len(input.Items) == 0 {
		return Distribution{}, shared.Validationf("distribution needs at least one item")
	}
	perBatch := make(map[int64]int64)
	perShop := make(map[int64]int64)
	for i, item := range input.Items {
		if item.Quantity <= 0 {
			return Distribution{}, shared.Validationf("item %d: quantity must be positive", i)
		}
		perBatch[item.BatchID] += item.Quantity
		perShop[item.ShopID] += item.Quantity
	}

	code := input.Code
	if code == "" {
		code = fmt.Sprintf("DST-%s", uuid.NewString())
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		vehicle, err := tx.GetVehicle(ctx, input.VehicleID)
		if err != nil {
			return err
		}
		if !vehicle.Active {
			return ErrVehicleInactive
		}
		for batchID, requested := range perBatch {
			available, err := tx.BatchAvailability(ctx, batchID)
			if err != nil {
				return err
			}
			if requested > available {
				return fmt.Errorf("%w: batch %d has %d available, requested %d",
					ErrInsufficientStock, batchID, available, requested)
			}
		}

		id, err = tx.InsertDistribution(ctx, Distribution{
			TenantID:      shared.TenantFromContext(ctx),
			Code:          code,
			VehicleID:     input.VehicleID,
			Status:        StatusScheduled,
			ScheduledDate: input.ScheduledDate,
		})
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			if _, err := tx.InsertItem(ctx, Item{
				DistributionID: id,
				BatchID:        item.BatchID,
				ShopID:         item.ShopID,
				Quantity:       item.Quantity,
				Status:         ItemPending,
			}); err != nil {
				return err
			}
		}
		for shopID, total := range perShop {
			if _, err := tx.InsertDelivery(ctx, Delivery{
				DistributionID: id,
				ShopID:         shopID,
				TotalQuantity:  total,
				Status:         DeliveryPending,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Distribution{}, err
	}

	s.recordAudit(ctx, "distribution:create", id, map[string]any{"code": code, "items": len(input.Items)})
	s.notifyEvent(ctx, notify.EventDeliveryScheduled,
		fmt.Sprintf("Distribution %s scheduled", code),
		fmt.Sprintf("Vehicle %d dispatching %s on %s",
			input.VehicleID, notify.FormatUnits(sum(perShop)), input.ScheduledDate.Format("2006-01-02")),
		map[string]any{"distribution_id": id})
	return s.repo.Get(ctx, id)
}

// Get returns a distribution with its items.
func (s *Service) Get(ctx context.Context, id int64) (Distribution, error) {
	return s.repo.Get(ctx, id)
}

// List returns distributions scoped to the tenant in context.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Distribution, shared.Pagination, error) {
	filter.TenantID = shared.TenantFromContext(ctx)
	list, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Deliveries lists the per-shop delivery legs of a distribution.
func (s *Service) Deliveries(ctx context.Context, distributionID int64) ([]Delivery, error) {
	if _, err := s.repo.Get(ctx, distributionID); err != nil {
		return nil, err
	}
	return s.repo.ListDeliveries(ctx, distributionID)
}

// UpdateStatus moves a run along Scheduled -> InTransit -> Completed, or to
// Cancelled from the first two. No backward transitions.
func (s *Service) UpdateStatus(ctx context.Context, id int64, next Status) (Distribution, error) {
	if !next.Valid() {
		return Distribution{}, shared.Validationf("unknown distribution status %q", next)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetDistributionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, next)
		}
		return tx.SetDistributionStatus(ctx, id, next)
	})
	if err != nil {
		return Distribution{}, err
	}
	s.recordAudit(ctx, "distribution:status", id, map[string]any{"to": next})
	return s.repo.Get(ctx, id)
}

// VerifyDelivery records the quantity a shop confirms received. The status
// derives from the comparison: Completed when verified equals dispatched,
// Partial when short, Pending while nothing is verified. A completed leg
// marks its shop's items Delivered.
//
// While the delivery is open, each call restates the verified count rather
// than accumulating: a shop correcting an earlier miscount may lower it or
// reset it to zero. Completed and Cancelled legs reject further changes.
func (s *Service) VerifyDelivery(ctx context.Context, deliveryID, verified int64) (Delivery, error) {
	if verified < 0 {
		return Delivery{}, shared.Validationf("verified quantity cannot be negative")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		delivery, err := tx.GetDeliveryForUpdate(ctx, deliveryID)
		if err != nil {
			return err
		}
		if delivery.Status == DeliveryCompleted || delivery.Status == DeliveryCancelled {
			return fmt.Errorf("%w: status is %s", ErrDeliverySettled, delivery.Status)
		}
		if verified > delivery.TotalQuantity {
			return fmt.Errorf("%w: %d > %d", ErrOverVerified, verified, delivery.TotalQuantity)
		}

		status := DeliveryPending
		switch {
		case verified == delivery.TotalQuantity:
			status = DeliveryCompleted
		case verified > 0:
			status = DeliveryPartial
		}
		if err := tx.SetDeliveryVerification(ctx, deliveryID, verified, status, time.Now().UTC()); err != nil {
			return err
		}
		if status == DeliveryCompleted {
			return tx.SetItemsStatusForShop(ctx, delivery.DistributionID, delivery.ShopID, ItemDelivered)
		}
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	s.recordAudit(ctx, "delivery:verify", deliveryID, map[string]any{"verified": verified})
	return s.repo.GetDelivery(ctx, deliveryID)
}

// CancelDelivery is the explicit terminal override for a leg that will not
// arrive. Its items are marked Returned.
func (s *Service) CancelDelivery(ctx context.Context, deliveryID int64) (Delivery, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		delivery, err := tx.GetDeliveryForUpdate(ctx, deliveryID)
		if err != nil {
			return err
		}
		if delivery.Status == DeliveryCompleted || delivery.Status == DeliveryCancelled {
			return fmt.Errorf("%w: status is %s", ErrDeliverySettled, delivery.Status)
		}
		if err := tx.SetDeliveryStatus(ctx, deliveryID, DeliveryCancelled); err != nil {
			return err
		}
		return tx.SetItemsStatusForShop(ctx, delivery.DistributionID, delivery.ShopID, ItemReturned)
	})
	if err != nil {
		return Delivery{}, err
	}
	s.recordAudit(ctx, "delivery:cancel", deliveryID, nil)
	return s.repo.GetDelivery(ctx, deliveryID)
}

func (s *Service) notifyEvent(ctx context.Context, eventType, subject, body string, meta map[string]any) {
	event := notify.Event{
		Type:     eventType,
		TenantID: shared.TenantFromContext(ctx),
		Subject:  subject,
		Body:     body,
		Meta:     meta,
	}
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.logger.Warn("notification dispatch failed", slog.Any("error", err), slog.String("type", eventType))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor := shared.ActorFromContext(ctx)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		TenantID: shared.TenantFromContext(ctx),
		Action:   action,
		Entity:   "distribution",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

func sum(m map[int64]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

package batches

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// RepositoryPort abstracts batch persistence for the service.
type RepositoryPort interface {
	Insert(ctx context.Context, batch Batch) (int64, error)
	Get(ctx context.Context, id int64, includeDeleted bool) (Batch, error)
	List(ctx context.Context, filter ListFilter) ([]Batch, int, error)
	SetStatus(ctx context.Context, id int64, status BatchStatus) error
	SetHealth(ctx context.Context, id int64, health HealthStatus) error
	AssignFarm(ctx context.Context, id, farmID int64) error
	SoftDelete(ctx context.Context, id int64, deletedAt time.Time) error
}

// AuditPort abstracts audit logging. Failures are logged and swallowed.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates chicken batch operations.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Create registers a purchased batch. Quantity is immutable afterwards;
// every later stock change goes through the ledger.
func (s *Service) Create(ctx context.Context, input CreateBatchInput) (Batch, error) {
	if input.Quantity <= 0 {
		return Batch{}, shared.Validationf("quantity must be positive")
	}
	code := input.Code
	if code == "" {
		code = fmt.Sprintf("BATCH-%s", uuid.NewString())
	}
	batch := Batch{
		TenantID:     shared.TenantFromContext(ctx),
		Code:         code,
		SupplierID:   input.SupplierID,
		FarmID:       input.FarmID,
		PurchaseDate: input.PurchaseDate,
		Quantity:     input.Quantity,
		AgeDays:      input.AgeDays,
		WeightKg:     input.WeightKg,
		Status:       StatusPurchased,
		Health:       HealthHealthy,
	}
	id, err := s.repo.Insert(ctx, batch)
	if err != nil {
		return Batch{}, err
	}
	s.recordAudit(ctx, "batch:create", id, map[string]any{"code": code, "quantity": input.Quantity})
	return s.repo.Get(ctx, id, false)
}

// Get returns a batch by id. Soft-deleted batches are only visible when
// includeDeleted is set.
func (s *Service) Get(ctx context.Context, id int64, includeDeleted bool) (Batch, error) {
	return s.repo.Get(ctx, id, includeDeleted)
}

// List returns batches scoped to the tenant in context.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Batch, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, shared.Validationf("unknown batch status %q", filter.Status)
	}
	filter.TenantID = shared.TenantFromContext(ctx)
	batches, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return batches, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// AdvanceStatus moves a batch forward along the pipeline. Skipping stages is
// allowed; moving backward or revisiting the current stage is not.
func (s *Service) AdvanceStatus(ctx context.Context, id int64, next BatchStatus) (Batch, error) {
	if !next.Valid() {
		return Batch{}, shared.Validationf("unknown batch status %q", next)
	}
	batch, err := s.repo.Get(ctx, id, false)
	if err != nil {
		return Batch{}, err
	}
	if !batch.Status.CanAdvanceTo(next) {
		return Batch{}, fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, batch.Status, next)
	}
	if err := s.repo.SetStatus(ctx, id, next); err != nil {
		return Batch{}, err
	}
	s.recordAudit(ctx, "batch:advance", id, map[string]any{"from": batch.Status, "to": next})
	return s.repo.Get(ctx, id, false)
}

// UpdateHealth changes the veterinary condition of a batch.
func (s *Service) UpdateHealth(ctx context.Context, id int64, health HealthStatus) (Batch, error) {
	switch health {
	case HealthHealthy, HealthSick, HealthQuarantined:
	default:
		return Batch{}, shared.Validationf("unknown health status %q", health)
	}
	if _, err := s.repo.Get(ctx, id, false); err != nil {
		return Batch{}, err
	}
	if err := s.repo.SetHealth(ctx, id, health); err != nil {
		return Batch{}, err
	}
	return s.repo.Get(ctx, id, false)
}

// AssignFarm places a batch at a farm. Physical arrival is recorded
// separately as an IN movement on the ledger.
func (s *Service) AssignFarm(ctx context.Context, id, farmID int64) (Batch, error) {
	if farmID <= 0 {
		return Batch{}, shared.Validationf("farm required")
	}
	if _, err := s.repo.Get(ctx, id, false); err != nil {
		return Batch{}, err
	}
	if err := s.repo.AssignFarm(ctx, id, farmID); err != nil {
		return Batch{}, err
	}
	s.recordAudit(ctx, "batch:assign_farm", id, map[string]any{"farm_id": farmID})
	return s.repo.Get(ctx, id, false)
}

// SoftDelete marks a batch deleted. Its movement history stays in the ledger;
// the batch simply disappears from default reads and rejects new movements.
func (s *Service) SoftDelete(ctx context.Context, id int64) error {
	batch, err := s.repo.Get(ctx, id, false)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.recordAudit(ctx, "batch:delete", id, map[string]any{"code": batch.Code})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor := shared.ActorFromContext(ctx)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		TenantID: shared.TenantFromContext(ctx),
		Action:   action,
		Entity:   "chicken_batch",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

package farms

import (
	"context"
	"log/slog"

	"github.com/pluma-erp/pluma-erp/internal/shared"
)

// RepositoryPort abstracts farm persistence for the service.
type RepositoryPort interface {
	Insert(ctx context.Context, farm Farm) (int64, error)
	Update(ctx context.Context, id int64, input UpdateFarmInput) error
	Get(ctx context.Context, id int64) (Farm, error)
	List(ctx context.Context, filter ListFilter) ([]Farm, int, error)
	InventoryRows(ctx context.Context, farmID int64) ([]BatchStock, error)
}

// InventoryLoader caches the derived inventory view; nil disables caching.
type InventoryLoader interface {
	Fetch(ctx context.Context, farmID int64, loader func(context.Context) (Inventory, error)) (Inventory, error)
}

// Service coordinates farm operations.
type Service struct {
	repo   RepositoryPort
	cache  InventoryLoader
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, cache InventoryLoader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Create registers a farm for the tenant in context.
func (s *Service) Create(ctx context.Context, input CreateFarmInput) (Farm, error) {
	if input.Capacity <= 0 {
		return Farm{}, shared.Validationf("capacity must be positive")
	}
	farm := Farm{
		TenantID: shared.TenantFromContext(ctx),
		Name:     input.Name,
		Location: input.Location,
		Capacity: input.Capacity,
		Active:   true,
	}
	id, err := s.repo.Insert(ctx, farm)
	if err != nil {
		return Farm{}, err
	}
	return s.repo.Get(ctx, id)
}

// Update applies partial changes to a farm.
func (s *Service) Update(ctx context.Context, id int64, input UpdateFarmInput) (Farm, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Farm{}, err
	}
	if input.Capacity != nil && *input.Capacity <= 0 {
		return Farm{}, shared.Validationf("capacity must be positive")
	}
	if err := s.repo.Update(ctx, id, input); err != nil {
		return Farm{}, err
	}
	return s.repo.Get(ctx, id)
}

// Get returns a farm by id.
func (s *Service) Get(ctx context.Context, id int64) (Farm, error) {
	return s.repo.Get(ctx, id)
}

// List returns farms scoped to the tenant in context.
func (s *Service) List(ctx context.Context, includeInactive bool, page, perPage int) ([]Farm, shared.Pagination, error) {
	filter := ListFilter{
		TenantID:        shared.TenantFromContext(ctx),
		IncludeInactive: includeInactive,
		Page:            page,
		PerPage:         perPage,
	}
	farms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return farms, shared.NewPagination(page, perPage, total), nil
}

// Inventory derives the capacity view for a farm, served from cache when
// available. The ledger invalidates the cache on every movement.
func (s *Service) Inventory(ctx context.Context, farmID int64) (Inventory, error) {
	load := func(ctx context.Context) (Inventory, error) {
		farm, err := s.repo.Get(ctx, farmID)
		if err != nil {
			return Inventory{}, err
		}
		rows, err := s.repo.InventoryRows(ctx, farmID)
		if err != nil {
			return Inventory{}, err
		}
		inv := Inventory{
			FarmID:         farm.ID,
			Capacity:       farm.Capacity,
			CurrentStock:   farm.CurrentCount,
			AvailableStock: farm.CurrentCount,
			Batches:        rows,
		}
		return inv, nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.Fetch(ctx, farmID, load)
}

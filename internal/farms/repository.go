package farms

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists farms in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, farm Farm) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO farms (tenant_id, name, location, capacity, current_count, active, created_at, updated_at)
		 VALUES (NULLIF($1, 0), $2, $3, $4, 0, $5, NOW(), NOW())
		 RETURNING id`,
		farm.TenantID, farm.Name, farm.Location, farm.Capacity, farm.Active).Scan(&id)
	return id, err
}

func (r *Repository) Update(ctx context.Context, id int64, input UpdateFarmInput) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if input.Name != nil {
		sets = append(sets, "name = "+arg(*input.Name))
	}
	if input.Location != nil {
		sets = append(sets, "location = "+arg(*input.Location))
	}
	if input.Capacity != nil {
		sets = append(sets, "capacity = "+arg(*input.Capacity))
	}
	if input.Active != nil {
		sets = append(sets, "active = "+arg(*input.Active))
	}
	query := "UPDATE farms SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

func (r *Repository) Get(ctx context.Context, id int64) (Farm, error) {
	var farm Farm
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(tenant_id, 0), name, COALESCE(location, ''), capacity,
		        current_count, active, created_at, updated_at
		 FROM farms WHERE id = $1`,
		id).Scan(&farm.ID, &farm.TenantID, &farm.Name, &farm.Location, &farm.Capacity,
		&farm.CurrentCount, &farm.Active, &farm.CreatedAt, &farm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Farm{}, ErrFarmNotFound
		}
		return Farm{}, err
	}
	return farm, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Farm, int, error) {
	var where []string
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.TenantID != 0 {
		where = append(where, "tenant_id = "+arg(filter.TenantID))
	}
	if !filter.IncludeInactive {
		where = append(where, "active")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM farms"+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT id, COALESCE(tenant_id, 0), name, COALESCE(location, ''), capacity,
	                 current_count, active, created_at, updated_at
	          FROM farms` + clause +
		" ORDER BY name LIMIT " + arg(perPage) + " OFFSET " + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var farms []Farm
	for rows.Next() {
		var farm Farm
		if err := rows.Scan(&farm.ID, &farm.TenantID, &farm.Name, &farm.Location, &farm.Capacity,
			&farm.CurrentCount, &farm.Active, &farm.CreatedAt, &farm.UpdatedAt); err != nil {
			return nil, 0, err
		}
		farms = append(farms, farm)
	}
	return farms, total, rows.Err()
}

// InventoryRows builds the per-batch breakdown: each batch's ledger balance
// at the farm against the quantity already committed to Pending or Delivered
// distribution items.
func (r *Repository) InventoryRows(ctx context.Context, farmID int64) ([]BatchStock, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT b.id, b.code, COALESCE(fb.quantity, 0) AS total_quantity,
		        COALESCE(di.committed, 0) AS committed
		 FROM chicken_batches b
		 JOIN farm_batch_balances fb ON fb.batch_id = b.id AND fb.farm_id = $1
		 LEFT JOIN (
		     SELECT batch_id, SUM(quantity) AS committed
		     FROM distribution_items
		     WHERE status IN ('PENDING', 'DELIVERED')
		     GROUP BY batch_id
		 ) di ON di.batch_id = b.id
		 WHERE b.deleted_at IS NULL
		 ORDER BY b.code`,
		farmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []BatchStock
	for rows.Next() {
		var s BatchStock
		if err := rows.Scan(&s.BatchID, &s.BatchCode, &s.TotalQuantity, &s.CommittedQuantity); err != nil {
			return nil, err
		}
		s.AvailableQuantity = s.TotalQuantity - s.CommittedQuantity
		if s.AvailableQuantity < 0 {
			s.AvailableQuantity = 0
		}
		stocks = append(stocks, s)
	}
	return stocks, rows.Err()
}

package batches

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists chicken batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const batchColumns = `id, COALESCE(tenant_id, 0), code, supplier_id, farm_id, purchase_date,
       quantity, age_days, weight_kg, status, health_status, deleted_at, created_at, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.TenantID, &b.Code, &b.SupplierID, &b.FarmID, &b.PurchaseDate,
		&b.Quantity, &b.AgeDays, &b.WeightKg, &b.Status, &b.Health, &b.DeletedAt, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *Repository) Insert(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chicken_batches
		     (tenant_id, code, supplier_id, farm_id, purchase_date, quantity,
		      age_days, weight_kg, status, health_status, created_at, updated_at)
		 VALUES (NULLIF($1, 0), $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		 RETURNING id`,
		batch.TenantID, batch.Code, batch.SupplierID, batch.FarmID, batch.PurchaseDate,
		batch.Quantity, batch.AgeDays, batch.WeightKg, batch.Status, batch.Health).Scan(&id)
	return id, err
}

func (r *Repository) Get(ctx context.Context, id int64, includeDeleted bool) (Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM chicken_batches WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	batch, err := scanBatch(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Batch, int, error) {
	var where []string
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.TenantID != 0 {
		where = append(where, "tenant_id = "+arg(filter.TenantID))
	}
	if filter.FarmID != 0 {
		where = append(where, "farm_id = "+arg(filter.FarmID))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM chicken_batches"+clause, args...).Scan(&total); err != nil {
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
	query := `SELECT ` + batchColumns + ` FROM chicken_batches` + clause +
		" ORDER BY purchase_date DESC, id DESC LIMIT " + arg(perPage) + " OFFSET " + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		batches = append(batches, batch)
	}
	return batches, total, rows.Err()
}

func (r *Repository) SetStatus(ctx context.Context, id int64, status BatchStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE chicken_batches SET status = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, status)
	return err
}

func (r *Repository) SetHealth(ctx context.Context, id int64, health HealthStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE chicken_batches SET health_status = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, health)
	return err
}

func (r *Repository) AssignFarm(ctx context.Context, id, farmID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE chicken_batches SET farm_id = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, farmID)
	return err
}

func (r *Repository) SoftDelete(ctx context.Context, id int64, deletedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE chicken_batches SET deleted_at = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, deletedAt)
	return err
}

package distribution

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists distributions and deliveries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const distributionColumns = `id, COALESCE(tenant_id, 0), code, vehicle_id, status, scheduled_date, created_at, updated_at`

func scanDistribution(row pgx.Row) (Distribution, error) {
	var d Distribution
	err := row.Scan(&d.ID, &d.TenantID, &d.Code, &d.VehicleID, &d.Status, &d.ScheduledDate,
		&d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// Get returns a distribution with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Distribution, error) {
	d, err := scanDistribution(r.pool.QueryRow(ctx,
		`SELECT `+distributionColumns+` FROM distributions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Distribution{}, ErrDistributionNotFound
		}
		return Distribution{}, err
	}
	d.Items, err = loadItems(ctx, r.pool, id)
	if err != nil {
		return Distribution{}, err
	}
	return d, nil
}

// List returns distributions matching the filter, newest schedule first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Distribution, int, error) {
	var where []string
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.TenantID != 0 {
		where = append(where, "tenant_id = "+arg(filter.TenantID))
	}
	if filter.VehicleID != 0 {
		where = append(where, "vehicle_id = "+arg(filter.VehicleID))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM distributions"+clause, args...).Scan(&total); err != nil {
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
	query := `SELECT ` + distributionColumns + ` FROM distributions` + clause +
		" ORDER BY scheduled_date DESC, id DESC LIMIT " + arg(perPage) + " OFFSET " + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var distributions []Distribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, 0, err
		}
		distributions = append(distributions, d)
	}
	return distributions, total, rows.Err()
}

const deliveryColumns = `id, distribution_id, shop_id, total_quantity, verified_quantity, status, verified_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.DistributionID, &d.ShopID, &d.TotalQuantity, &d.VerifiedQuantity,
		&d.Status, &d.VerifiedAt, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// GetDelivery returns one delivery leg.
func (r *Repository) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrDeliveryNotFound
		}
		return Delivery{}, err
	}
	return d, nil
}

// ListDeliveries returns the delivery legs of a distribution.
func (r *Repository) ListDeliveries(ctx context.Context, distributionID int64) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE distribution_id = $1 ORDER BY id`,
		distributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, distributionID int64) ([]Item, error) {
	rows, err := q.Query(ctx,
		`SELECT id, distribution_id, batch_id, shop_id, quantity, status
		 FROM distribution_items WHERE distribution_id = $1 ORDER BY id`, distributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.DistributionID, &item.BatchID, &item.ShopID,
			&item.Quantity, &item.Status); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *txRepo) GetVehicle(ctx context.Context, vehicleID int64) (VehicleState, error) {
	var v VehicleState
	err := t.tx.QueryRow(ctx,
		`SELECT id, active FROM vehicles WHERE id = $1`, vehicleID).Scan(&v.ID, &v.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VehicleState{}, ErrVehicleNotFound
		}
		return VehicleState{}, err
	}
	return v, nil
}

func (t *txRepo) BatchAvailability(ctx context.Context, batchID int64) (int64, error) {
	var available int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE((SELECT SUM(quantity) FROM farm_batch_balances WHERE batch_id = $1), 0)
		      - COALESCE((SELECT SUM(quantity) FROM distribution_items
		                  WHERE batch_id = $1 AND status IN ('PENDING', 'DELIVERED')), 0)`,
		batchID).Scan(&available)
	return available, err
}

func (t *txRepo) InsertDistribution(ctx context.Context, d Distribution) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO distributions (tenant_id, code, vehicle_id, status, scheduled_date, created_at, updated_at)
		 VALUES (NULLIF($1, 0), $2, $3, $4, $5, NOW(), NOW())
		 RETURNING id`,
		d.TenantID, d.Code, d.VehicleID, d.Status, d.ScheduledDate).Scan(&id)
	return id, err
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO distribution_items (distribution_id, batch_id, shop_id, quantity, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		item.DistributionID, item.BatchID, item.ShopID, item.Quantity, item.Status).Scan(&id)
	return id, err
}

func (t *txRepo) InsertDelivery(ctx context.Context, d Delivery) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO deliveries (distribution_id, shop_id, total_quantity, verified_quantity, status, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, NOW(), NOW())
		 RETURNING id`,
		d.DistributionID, d.ShopID, d.TotalQuantity, d.Status).Scan(&id)
	return id, err
}

func (t *txRepo) GetDistributionForUpdate(ctx context.Context, id int64) (Distribution, error) {
	d, err := scanDistribution(t.tx.QueryRow(ctx,
		`SELECT `+distributionColumns+` FROM distributions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Distribution{}, ErrDistributionNotFound
		}
		return Distribution{}, err
	}
	return d, nil
}

func (t *txRepo) SetDistributionStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE distributions SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

func (t *txRepo) GetDeliveryForUpdate(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(t.tx.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrDeliveryNotFound
		}
		return Delivery{}, err
	}
	return d, nil
}

func (t *txRepo) SetDeliveryVerification(ctx context.Context, id, verified int64, status DeliveryStatus, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE deliveries SET verified_quantity = $2, status = $3, verified_at = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, verified, status, at)
	return err
}

func (t *txRepo) SetDeliveryStatus(ctx context.Context, id int64, status DeliveryStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE deliveries SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

func (t *txRepo) SetItemsStatusForShop(ctx context.Context, distributionID, shopID int64, status ItemStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE distribution_items SET status = $3 WHERE distribution_id = $1 AND shop_id = $2`,
		distributionID, shopID, status)
	return err
}

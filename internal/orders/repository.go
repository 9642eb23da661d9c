package orders

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists orders in PostgreSQL.
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

// Insert writes an order and its items atomically.
func (r *Repository) Insert(ctx context.Context, order Order) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders
		   (tenant_id, code, shop_id, status, fulfillment_status, total_amount,
		    requested_delivery_date, created_by, created_at, updated_at)
		 VALUES (NULLIF($1, 0), $2, $3, $4, $5, $6, $7, NULLIF($8, 0), NOW(), NOW())
		 RETURNING id`,
		order.TenantID, order.Code, order.ShopID, order.Status, order.Fulfillment,
		order.TotalAmount, order.RequestedDelivery, order.CreatedBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, item := range order.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items
			   (order_id, batch_id, farm_id, requested_quantity, fulfilled_quantity, unit_price)
			 VALUES ($1, $2, $3, $4, 0, $5)`,
			id, item.BatchID, item.FarmID, item.RequestedQuantity, item.UnitPrice)
		if err != nil {
			return 0, err
		}
	}
	return id, tx.Commit(ctx)
}

const orderColumns = `id, COALESCE(tenant_id, 0), code, shop_id, status, fulfillment_status,
       total_amount, requested_delivery_date, COALESCE(created_by, 0),
       COALESCE(approved_by, 0), approved_at, COALESCE(rejected_by, 0),
       COALESCE(rejection_reason, ''), COALESCE(cancelled_by, 0), created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.TenantID, &o.Code, &o.ShopID, &o.Status, &o.Fulfillment,
		&o.TotalAmount, &o.RequestedDelivery, &o.CreatedBy,
		&o.ApprovedBy, &o.ApprovedAt, &o.RejectedBy,
		&o.RejectionReason, &o.CancelledBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// Get returns an order with its items.
func (r *Repository) Get(ctx context.Context, orderID int64) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	order.Items, err = loadItems(ctx, r.pool, orderID)
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// List returns orders matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	var where []string
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.TenantID != 0 {
		where = append(where, "tenant_id = "+arg(filter.TenantID))
	}
	if filter.ShopID != 0 {
		where = append(where, "shop_id = "+arg(filter.ShopID))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders"+clause, args...).Scan(&total); err != nil {
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
	query := `SELECT ` + orderColumns + ` FROM orders` + clause +
		" ORDER BY created_at DESC, id DESC LIMIT " + arg(perPage) + " OFFSET " + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	return orders, total, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderID int64) ([]Item, error) {
	rows, err := q.Query(ctx,
		`SELECT id, order_id, batch_id, farm_id, requested_quantity, fulfilled_quantity, unit_price
		 FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.BatchID, &item.FarmID,
			&item.RequestedQuantity, &item.FulfilledQuantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *txRepo) GetForUpdate(ctx context.Context, orderID int64) (Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	order.Items, err = loadItems(ctx, t.tx, orderID)
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (t *txRepo) SetApproval(ctx context.Context, orderID, approver int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, approved_by = NULLIF($3, 0), approved_at = $4, updated_at = NOW()
		 WHERE id = $1`,
		orderID, StatusApproved, approver, at)
	return err
}

func (t *txRepo) SetRejection(ctx context.Context, orderID, rejecter int64, reason string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, rejected_by = NULLIF($3, 0), rejection_reason = $4, updated_at = NOW()
		 WHERE id = $1`,
		orderID, StatusRejected, rejecter, reason)
	return err
}

func (t *txRepo) SetCancelled(ctx context.Context, orderID, canceller int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, cancelled_by = NULLIF($3, 0), updated_at = NOW() WHERE id = $1`,
		orderID, StatusCancelled, canceller)
	return err
}

func (t *txRepo) SetItemFulfilled(ctx context.Context, itemID, quantity int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE order_items SET fulfilled_quantity = $2 WHERE id = $1`, itemID, quantity)
	return err
}

func (t *txRepo) SetStatuses(ctx context.Context, orderID int64, status Status, fulfillment FulfillmentStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, fulfillment_status = $3, updated_at = NOW() WHERE id = $1`,
		orderID, status, fulfillment)
	return err
}

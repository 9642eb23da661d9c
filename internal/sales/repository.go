package sales

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists sales and payments in PostgreSQL.
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

// saleColumns derives paid_amount on every read; the stored payment_status
// is just a cache of the same sum.
const saleColumns = `s.id, COALESCE(s.tenant_id, 0), s.code, s.delivery_id, s.shop_id, s.quantity,
       s.unit_price, s.total_amount, s.payment_status,
       COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.sale_id = s.id AND p.deleted_at IS NULL), 0),
       s.created_at, s.updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.TenantID, &s.Code, &s.DeliveryID, &s.ShopID, &s.Quantity,
		&s.UnitPrice, &s.TotalAmount, &s.PaymentStatus, &s.PaidAmount, &s.CreatedAt, &s.UpdatedAt)
	if err == nil {
		s.RemainingAmount = s.TotalAmount - s.PaidAmount
	}
	return s, err
}

// Get returns a sale with its payments and derived amounts.
func (r *Repository) Get(ctx context.Context, saleID int64) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales s WHERE s.id = $1`, saleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, sale_id, amount, COALESCE(method, ''), paid_at, created_at
		 FROM payments WHERE sale_id = $1 AND deleted_at IS NULL ORDER BY paid_at, id`, saleID)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Amount, &p.Method, &p.PaidAt, &p.Recorded); err != nil {
			return Sale{}, err
		}
		sale.Payments = append(sale.Payments, p)
	}
	return sale, rows.Err()
}

// List returns sales matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	var where []string
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.TenantID != 0 {
		where = append(where, "s.tenant_id = "+arg(filter.TenantID))
	}
	if filter.ShopID != 0 {
		where = append(where, "s.shop_id = "+arg(filter.ShopID))
	}
	if filter.Status != "" {
		where = append(where, "s.payment_status = "+arg(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sales s"+clause, args...).Scan(&total); err != nil {
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
	query := `SELECT ` + saleColumns + ` FROM sales s` + clause +
		" ORDER BY s.created_at DESC, s.id DESC LIMIT " + arg(perPage) + " OFFSET " + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	return sales, total, rows.Err()
}

// ListUnpaid returns every sale that still has an outstanding balance.
func (r *Repository) ListUnpaid(ctx context.Context) ([]Sale, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+saleColumns+` FROM sales s WHERE s.payment_status <> 'PAID' ORDER BY s.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (t *txRepo) GetDelivery(ctx context.Context, deliveryID int64) (BilledDelivery, error) {
	var d BilledDelivery
	err := t.tx.QueryRow(ctx,
		`SELECT id, shop_id, verified_quantity, status = 'CANCELLED'
		 FROM deliveries WHERE id = $1`, deliveryID).
		Scan(&d.ID, &d.ShopID, &d.VerifiedQuantity, &d.Cancelled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BilledDelivery{}, ErrDeliveryNotFound
		}
		return BilledDelivery{}, err
	}
	return d, nil
}

func (t *txRepo) SaleExistsForDelivery(ctx context.Context, deliveryID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sales WHERE delivery_id = $1)`, deliveryID).Scan(&exists)
	return exists, err
}

func (t *txRepo) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO sales
		   (tenant_id, code, delivery_id, shop_id, quantity, unit_price, total_amount,
		    payment_status, created_at, updated_at)
		 VALUES (NULLIF($1, 0), $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 RETURNING id`,
		sale.TenantID, sale.Code, sale.DeliveryID, sale.ShopID, sale.Quantity,
		sale.UnitPrice, sale.TotalAmount, sale.PaymentStatus).Scan(&id)
	return id, err
}

func (t *txRepo) GetSaleForUpdate(ctx context.Context, saleID int64) (Sale, error) {
	var s Sale
	err := t.tx.QueryRow(ctx,
		`SELECT id, COALESCE(tenant_id, 0), code, delivery_id, shop_id, quantity,
		        unit_price, total_amount, payment_status, created_at, updated_at
		 FROM sales WHERE id = $1 FOR UPDATE`, saleID).
		Scan(&s.ID, &s.TenantID, &s.Code, &s.DeliveryID, &s.ShopID, &s.Quantity,
			&s.UnitPrice, &s.TotalAmount, &s.PaymentStatus, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	return s, nil
}

func (t *txRepo) SumPayments(ctx context.Context, saleID int64) (float64, error) {
	var paid float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE sale_id = $1 AND deleted_at IS NULL`,
		saleID).Scan(&paid)
	return paid, err
}

func (t *txRepo) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO payments (sale_id, amount, method, paid_at, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, NOW())
		 RETURNING id`,
		payment.SaleID, payment.Amount, payment.Method, payment.PaidAt).Scan(&id)
	return id, err
}

func (t *txRepo) SetPaymentStatus(ctx context.Context, saleID int64, status PaymentStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE sales SET payment_status = $2, updated_at = NOW() WHERE id = $1`, saleID, status)
	return err
}

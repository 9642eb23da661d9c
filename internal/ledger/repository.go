package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger data in PostgreSQL.
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

// ListMovements returns movements ordered by occurred_at then id, the
// canonical replay order.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, code, farm_id, batch_id, movement_type, quantity,
		       previous_quantity, new_quantity, reason, occurred_at,
		       recorded_by, created_at
		FROM stock_movements
		WHERE 1=1`)
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.FarmID != 0 {
		sb.WriteString(" AND farm_id = " + arg(filter.FarmID))
	}
	if filter.BatchID != 0 {
		sb.WriteString(" AND batch_id = " + arg(filter.BatchID))
	}
	if !filter.From.IsZero() {
		sb.WriteString(" AND occurred_at >= " + arg(filter.From))
	}
	if !filter.To.IsZero() {
		sb.WriteString(" AND occurred_at <= " + arg(filter.To))
	}
	sb.WriteString(" ORDER BY occurred_at, id")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(filter.Limit))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Code, &m.FarmID, &m.BatchID, &m.Type, &m.Quantity,
			&m.PreviousQuantity, &m.NewQuantity, &m.Reason, &m.OccurredAt,
			&m.RecordedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// GetBalance reads the cached running balance for a (farm, batch) pair.
func (r *Repository) GetBalance(ctx context.Context, farmID, batchID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx,
		`SELECT quantity FROM farm_batch_balances WHERE farm_id = $1 AND batch_id = $2`,
		farmID, batchID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrBalanceNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (t *txRepo) GetFarmForUpdate(ctx context.Context, farmID int64) (FarmState, error) {
	var farm FarmState
	err := t.tx.QueryRow(ctx,
		`SELECT id, capacity, current_count, active FROM farms WHERE id = $1 FOR UPDATE`,
		farmID).Scan(&farm.ID, &farm.Capacity, &farm.CurrentCount, &farm.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FarmState{}, ErrFarmNotFound
		}
		return FarmState{}, err
	}
	return farm, nil
}

func (t *txRepo) GetBatch(ctx context.Context, batchID int64) (BatchState, error) {
	var batch BatchState
	err := t.tx.QueryRow(ctx,
		`SELECT id, quantity, deleted_at IS NOT NULL FROM chicken_batches WHERE id = $1`,
		batchID).Scan(&batch.ID, &batch.Quantity, &batch.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BatchState{}, ErrBatchNotFound
		}
		return BatchState{}, err
	}
	return batch, nil
}

func (t *txRepo) GetBalanceForUpdate(ctx context.Context, farmID, batchID int64) (int64, error) {
	var qty int64
	err := t.tx.QueryRow(ctx,
		`SELECT quantity FROM farm_batch_balances WHERE farm_id = $1 AND batch_id = $2 FOR UPDATE`,
		farmID, batchID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrBalanceNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO stock_movements
		   (code, farm_id, batch_id, movement_type, quantity, previous_quantity,
		    new_quantity, reason, occurred_at, recorded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		m.Code, m.FarmID, m.BatchID, m.Type, m.Quantity, m.PreviousQuantity,
		m.NewQuantity, m.Reason, m.OccurredAt, m.RecordedBy, m.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) UpsertBalance(ctx context.Context, farmID, batchID, quantity int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO farm_batch_balances (farm_id, batch_id, quantity, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (farm_id, batch_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`,
		farmID, batchID, quantity)
	return err
}

func (t *txRepo) UpdateFarmCount(ctx context.Context, farmID, delta int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE farms SET current_count = current_count + $2, updated_at = NOW() WHERE id = $1`,
		farmID, delta)
	return err
}

func (t *txRepo) SetFarmCount(ctx context.Context, farmID, count int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE farms SET current_count = $2, updated_at = NOW() WHERE id = $1`,
		farmID, count)
	return err
}

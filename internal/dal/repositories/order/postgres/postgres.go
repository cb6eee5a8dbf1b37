package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/order-ingest/internal/service/models/order"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// OrderDal represents the order data access layer model.
type OrderDal struct {
	Id           int64     `db:"id"`
	OrderCode    int64     `db:"order_code"`
	CustomerCode int64     `db:"customer_code"`
	TotalCents   int64     `db:"total_cents"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// ToModel converts OrderDal to the service layer Order model.
func (o *OrderDal) ToModel() *order.Order {
	return &order.Order{
		ID:           o.Id,
		OrderCode:    o.OrderCode,
		CustomerCode: o.CustomerCode,
		TotalCents:   o.TotalCents,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

// GenericConn is an interface that works with both pgxpool.Pool and pgx.Tx.
type GenericConn interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresOrderRepository represents a Postgres order repository.
type PostgresOrderRepository struct {
	conn GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresOrderRepository creates a new Postgres order repository.
func NewPostgresOrderRepository(conn GenericConn) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// LockCode takes a transaction-scoped advisory lock on the order code.
// Concurrent upserts of the same code serialize on this lock, so their
// delete/update/insert sequences cannot interleave; the lock is released
// at commit or rollback.
func (r *PostgresOrderRepository) LockCode(ctx context.Context, orderCode int64) error {
	_, err := r.conn.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1::text))", orderCode)
	if err != nil {
		return fmt.Errorf("failed to lock order code %d: %w", orderCode, err)
	}

	return nil
}

// GetByCode retrieves an order by its business code. Returns nil when the
// order does not exist.
func (r *PostgresOrderRepository) GetByCode(
	ctx context.Context,
	orderCode int64,
) (*order.Order, error) {
	sql, args, err := r.sb.
		Select("id", "order_code", "customer_code", "total_cents", "created_at", "updated_at").
		From("orders").
		Where(sq.Eq{"order_code": orderCode}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var dal OrderDal
	err = r.conn.QueryRow(ctx, sql, args...).Scan(
		&dal.Id,
		&dal.OrderCode,
		&dal.CustomerCode,
		&dal.TotalCents,
		&dal.CreatedAt,
		&dal.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by code: %w", err)
	}

	return dal.ToModel(), nil
}

// Insert inserts a new order row and returns it with the generated id.
func (r *PostgresOrderRepository) Insert(
	ctx context.Context,
	o order.Order,
) (order.Order, error) {
	sql, args, err := r.sb.
		Insert("orders").
		Columns("order_code", "customer_code", "total_cents", "created_at", "updated_at").
		Values(o.OrderCode, o.CustomerCode, o.TotalCents, o.CreatedAt, o.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to build insert query: %w", err)
	}

	if err := r.conn.QueryRow(ctx, sql, args...).Scan(&o.ID); err != nil {
		return order.Order{}, fmt.Errorf("failed to insert order: %w", err)
	}

	return o, nil
}

// Update updates the scalar fields of an existing order by its code.
func (r *PostgresOrderRepository) Update(ctx context.Context, o order.Order) error {
	sql, args, err := r.sb.
		Update("orders").
		Set("customer_code", o.CustomerCode).
		Set("total_cents", o.TotalCents).
		Set("updated_at", o.UpdatedAt).
		Where(sq.Eq{"order_code": o.OrderCode}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	return nil
}

// Query retrieves orders based on filter criteria.
func (r *PostgresOrderRepository) Query(
	ctx context.Context,
	filter *order.QueryOrdersModel,
) ([]order.Order, error) {
	query := r.sb.
		Select("id", "order_code", "customer_code", "total_cents", "created_at", "updated_at").
		From("orders").
		OrderBy("order_code ASC")

	if len(filter.OrderCodes) > 0 {
		query = query.Where(sq.Eq{"order_code": filter.OrderCodes})
	}

	if len(filter.CustomerCodes) > 0 {
		query = query.Where(sq.Eq{"customer_code": filter.CustomerCodes})
	}

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}

	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		var dal OrderDal
		err := rows.Scan(
			&dal.Id,
			&dal.OrderCode,
			&dal.CustomerCode,
			&dal.TotalCents,
			&dal.CreatedAt,
			&dal.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		result = append(result, *dal.ToModel())
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

// CountByCustomer counts orders grouped by customer code.
func (r *PostgresOrderRepository) CountByCustomer(
	ctx context.Context,
) ([]order.CustomerOrderCount, error) {
	sql, args, err := r.sb.
		Select("customer_code", "COUNT(id)").
		From("orders").
		GroupBy("customer_code").
		OrderBy("customer_code ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders by customer: %w", err)
	}
	defer rows.Close()

	var result []order.CustomerOrderCount
	for rows.Next() {
		var count order.CustomerOrderCount
		if err := rows.Scan(&count.CustomerCode, &count.Orders); err != nil {
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}

		result = append(result, count)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

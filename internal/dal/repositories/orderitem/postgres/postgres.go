package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/order-ingest/internal/service/models/orderitem"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// OrderItemDal represents the order item data access layer model.
type OrderItemDal struct {
	Id             int64     `db:"id"`
	OrderCode      int64     `db:"order_code"`
	Product        string    `db:"product"`
	Quantity       float64   `db:"quantity"`
	PriceCents     int64     `db:"price_cents"`
	LineTotalCents int64     `db:"line_total_cents"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// ToModel converts OrderItemDal to the service layer OrderItem model.
func (oi *OrderItemDal) ToModel() *orderitem.OrderItem {
	return &orderitem.OrderItem{
		ID:             oi.Id,
		OrderCode:      oi.OrderCode,
		Product:        oi.Product,
		Quantity:       oi.Quantity,
		PriceCents:     oi.PriceCents,
		LineTotalCents: oi.LineTotalCents,
		CreatedAt:      oi.CreatedAt,
		UpdatedAt:      oi.UpdatedAt,
	}
}

// GenericConn is an interface that works with both pgxpool.Pool and pgx.Tx.
type GenericConn interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresOrderItemRepository represents a Postgres order item repository.
type PostgresOrderItemRepository struct {
	conn GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresOrderItemRepository creates a new Postgres order item repository.
func NewPostgresOrderItemRepository(conn GenericConn) *PostgresOrderItemRepository {
	return &PostgresOrderItemRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// BulkInsert inserts multiple order items and returns them with generated ids.
func (r *PostgresOrderItemRepository) BulkInsert(
	ctx context.Context,
	items []orderitem.OrderItem,
) ([]orderitem.OrderItem, error) {
	if len(items) == 0 {
		return []orderitem.OrderItem{}, nil
	}

	builder := r.sb.
		Insert("order_items").
		Columns(
			"order_code",
			"product",
			"quantity",
			"price_cents",
			"line_total_cents",
			"created_at",
			"updated_at",
		).
		Suffix("RETURNING id")

	for _, item := range items {
		builder = builder.Values(
			item.OrderCode,
			item.Product,
			item.Quantity,
			item.PriceCents,
			item.LineTotalCents,
			item.CreatedAt,
			item.UpdatedAt,
		)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bulk insert query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk insert order items: %w", err)
	}
	defer rows.Close()

	result := make([]orderitem.OrderItem, 0, len(items))
	i := 0
	for rows.Next() {
		item := items[i]
		if err := rows.Scan(&item.ID); err != nil {
			return nil, fmt.Errorf("failed to scan order item id: %w", err)
		}

		result = append(result, item)
		i++
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

// DeleteByOrderCode removes all items belonging to an order. Used before
// re-inserting the superseding item set so stale items never survive.
func (r *PostgresOrderItemRepository) DeleteByOrderCode(
	ctx context.Context,
	orderCode int64,
) error {
	sql, args, err := r.sb.
		Delete("order_items").
		Where(sq.Eq{"order_code": orderCode}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to delete order items: %w", err)
	}

	return nil
}

// Query retrieves order items based on filter criteria.
func (r *PostgresOrderItemRepository) Query(
	ctx context.Context,
	filter *orderitem.QueryOrderItemsModel,
) ([]orderitem.OrderItem, error) {
	query := r.sb.
		Select(
			"id",
			"order_code",
			"product",
			"quantity",
			"price_cents",
			"line_total_cents",
			"created_at",
			"updated_at",
		).
		From("order_items").
		OrderBy("id ASC")

	if len(filter.OrderCodes) > 0 {
		query = query.Where(sq.Eq{"order_code": filter.OrderCodes})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var result []orderitem.OrderItem
	for rows.Next() {
		var dal OrderItemDal
		err := rows.Scan(
			&dal.Id,
			&dal.OrderCode,
			&dal.Product,
			&dal.Quantity,
			&dal.PriceCents,
			&dal.LineTotalCents,
			&dal.CreatedAt,
			&dal.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		result = append(result, *dal.ToModel())
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

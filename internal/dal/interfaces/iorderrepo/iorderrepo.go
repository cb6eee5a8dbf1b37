package iorderrepo

import (
	"context"

	"github.com/corray333/order-ingest/internal/service/models/order"
)

// IOrderRepository is an interface for the order postgres repository.
type IOrderRepository interface {
	LockCode(ctx context.Context, orderCode int64) error
	GetByCode(ctx context.Context, orderCode int64) (*order.Order, error)
	Insert(ctx context.Context, o order.Order) (order.Order, error)
	Update(ctx context.Context, o order.Order) error
	Query(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error)
	CountByCustomer(ctx context.Context) ([]order.CustomerOrderCount, error)
}

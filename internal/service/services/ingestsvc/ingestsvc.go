package ingestsvc

import (
	"context"
	"log/slog"
	"time"

	"github.com/corray333/order-ingest/internal/dal/interfaces/iorderitemrepo"
	"github.com/corray333/order-ingest/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/order-ingest/internal/dal/postgres"
	"github.com/corray333/order-ingest/internal/dal/uow"
	"github.com/corray333/order-ingest/internal/service/models/order"
	"github.com/corray333/order-ingest/internal/service/models/orderitem"
	"go.opentelemetry.io/otel"
)

// IngestService persists canonical orders and serves read queries over them.
type IngestService struct {
	uowFactory func() unitOfWork
}

type unitOfWork interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	OrderRepository() iorderrepo.IOrderRepository
	OrderItemRepository() iorderitemrepo.IOrderItemRepository
}

func (s *IngestService) newUOW() unitOfWork {
	return s.uowFactory()
}

// option is a function that configures the IngestService.
type option func(*IngestService)

// MustNewIngestService creates a new IngestService.
func MustNewIngestService(opts ...option) *IngestService {
	s := &IngestService{}
	for _, opt := range opts {
		opt(s)
	}

	if s.uowFactory == nil {
		panic("ingestsvc: no unit of work source configured")
	}

	return s
}

// WithPostgresClient sets the Postgres client for the IngestService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresClient(pgClient *postgres.Client) option {
	return func(s *IngestService) {
		s.uowFactory = func() unitOfWork {
			return uow.NewUnitOfWork(pgClient)
		}
	}
}

// WithUnitOfWorkFactory overrides the unit of work source. Used by tests to
// inject a fake transactional boundary.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithUnitOfWorkFactory(factory func() unitOfWork) option {
	return func(s *IngestService) {
		s.uowFactory = factory
	}
}

// UpsertOrder persists a canonical order idempotently by its business code,
// inside a single transaction. A first ingestion inserts the order and its
// items; a re-delivery of the same code replaces the scalar fields and the
// full item set. Any failure rolls back the whole replacement, so partial
// item sets are never visible to readers. Returned errors carry a
// failure.Kind classification.
func (s *IngestService) UpsertOrder(ctx context.Context, o order.Order) error {
	ctx, span := otel.Tracer("service").Start(ctx, "IngestService.UpsertOrder")
	defer span.End()

	now := time.Now()

	work := s.newUOW()

	if err := work.Begin(ctx); err != nil {
		return classify(err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := work.Rollback(ctx); err != nil {
				slog.Error("Failed to roll back upsert", "error", err, "order_code", o.OrderCode)
			}
		}
	}()

	// Serializes concurrent upserts of the same order code for the rest of
	// the transaction.
	if err := work.OrderRepository().LockCode(ctx, o.OrderCode); err != nil {
		return classify(err)
	}

	existing, err := work.OrderRepository().GetByCode(ctx, o.OrderCode)
	if err != nil {
		return classify(err)
	}

	if existing == nil {
		o.CreatedAt = now
		o.UpdatedAt = now

		if _, err := work.OrderRepository().Insert(ctx, o); err != nil {
			return classify(err)
		}
	} else {
		o.CreatedAt = existing.CreatedAt
		o.UpdatedAt = now

		if err := work.OrderItemRepository().DeleteByOrderCode(ctx, o.OrderCode); err != nil {
			return classify(err)
		}

		if err := work.OrderRepository().Update(ctx, o); err != nil {
			return classify(err)
		}
	}

	items := make([]orderitem.OrderItem, len(o.Items))
	for i, item := range o.Items {
		item.OrderCode = o.OrderCode
		item.CreatedAt = now
		item.UpdatedAt = now
		items[i] = item
	}

	if _, err := work.OrderItemRepository().BulkInsert(ctx, items); err != nil {
		return classify(err)
	}

	if err := work.Commit(ctx); err != nil {
		return classify(err)
	}
	committed = true

	slog.Info("Order persisted",
		"order_code", o.OrderCode,
		"customer_code", o.CustomerCode,
		"items", len(items),
		"total_cents", o.TotalCents,
		"replaced", existing != nil)

	return nil
}

// GetOrders retrieves orders with their items based on filter criteria.
func (s *IngestService) GetOrders(
	ctx context.Context,
	filter *order.QueryOrdersModel,
) ([]order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "IngestService.GetOrders")
	defer span.End()

	work := s.newUOW()

	orders, err := work.OrderRepository().Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return []order.Order{}, nil
	}

	itemFilter := &orderitem.QueryOrderItemsModel{}
	for _, o := range orders {
		itemFilter.OrderCodes = append(itemFilter.OrderCodes, o.OrderCode)
	}

	items, err := work.OrderItemRepository().Query(ctx, itemFilter)
	if err != nil {
		return nil, err
	}

	for i := range orders {
		for _, item := range items {
			if item.OrderCode == orders[i].OrderCode {
				orders[i].Items = append(orders[i].Items, item)
			}
		}
	}

	return orders, nil
}

// GetOrderByCode retrieves a single order with its items. Returns nil when
// no order has the given code.
func (s *IngestService) GetOrderByCode(
	ctx context.Context,
	orderCode int64,
) (*order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "IngestService.GetOrderByCode")
	defer span.End()

	work := s.newUOW()

	o, err := work.OrderRepository().GetByCode(ctx, orderCode)
	if err != nil || o == nil {
		return nil, err
	}

	items, err := work.OrderItemRepository().Query(ctx, &orderitem.QueryOrderItemsModel{
		OrderCodes: []int64{orderCode},
	})
	if err != nil {
		return nil, err
	}

	o.Items = items

	return o, nil
}

// CountByCustomer counts persisted orders grouped by customer code.
func (s *IngestService) CountByCustomer(
	ctx context.Context,
) ([]order.CustomerOrderCount, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "IngestService.CountByCustomer")
	defer span.End()

	return s.newUOW().OrderRepository().CountByCustomer(ctx)
}

package order

import (
	"time"

	"github.com/corray333/order-ingest/internal/service/models/orderitem"
)

// Order represents a persisted order keyed by its business code.
type Order struct {
	ID           int64                 `json:"id"`
	OrderCode    int64                 `json:"codigoPedido"`
	CustomerCode int64                 `json:"codigoCliente"`
	TotalCents   int64                 `json:"totalCents"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
	Items        []orderitem.OrderItem `json:"itens"`
}

// CustomerOrderCount is the per-customer order count projection.
type CustomerOrderCount struct {
	CustomerCode int64 `json:"codigoCliente"`
	Orders       int64 `json:"quantidade"`
}

package listorders

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/corray333/order-ingest/internal/service/models/order"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
)

type service interface {
	GetOrders(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error)
}

type queryOrdersRequest struct {
	OrderCodes    []int64 `schema:"orderCodes,omitempty"`
	CustomerCodes []int64 `schema:"customerCodes,omitempty"`
	Limit         int     `schema:"limit,omitempty"`
	Offset        int     `schema:"offset,omitempty"`
}

func (q *queryOrdersRequest) ToModel() *order.QueryOrdersModel {
	return &order.QueryOrdersModel{
		OrderCodes:    q.OrderCodes,
		CustomerCodes: q.CustomerCodes,
		Limit:         q.Limit,
		Offset:        q.Offset,
	}
}

// ListOrders lists orders with their items, optionally filtered.
func ListOrders(w http.ResponseWriter, r *http.Request, service service) {
	decoder := schema.NewDecoder()
	query := &queryOrdersRequest{}
	if err := decoder.Decode(query, r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request", "error", err)

		return
	}

	respond(w, r, service, query.ToModel())
}

// ListOrdersByCustomer lists the orders of a single customer code.
func ListOrdersByCustomer(w http.ResponseWriter, r *http.Request, service service) {
	customerCode, err := strconv.ParseInt(chi.URLParam(r, "customerCode"), 10, 64)
	if err != nil {
		http.Error(w, "invalid customer code", http.StatusBadRequest)

		return
	}

	respond(w, r, service, &order.QueryOrdersModel{CustomerCodes: []int64{customerCode}})
}

func respond(w http.ResponseWriter, r *http.Request, service service, filter *order.QueryOrdersModel) {
	orders, err := service.GetOrders(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error getting orders", "error", err)

		return
	}

	if err := json.NewEncoder(w).Encode(orders); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error sending response", "error", err)
	}
}

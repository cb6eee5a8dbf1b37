package ordertotal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/corray333/order-ingest/internal/service/models/order"
	"github.com/go-chi/chi/v5"
)

type service interface {
	GetOrderByCode(ctx context.Context, orderCode int64) (*order.Order, error)
}

type orderTotalResponse struct {
	OrderCode int64   `json:"pedido"`
	Total     float64 `json:"total"`
}

// OrderTotal returns the total value of a single order.
func OrderTotal(w http.ResponseWriter, r *http.Request, service service) {
	orderCode, err := strconv.ParseInt(chi.URLParam(r, "orderCode"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order code", http.StatusBadRequest)

		return
	}

	o, err := service.GetOrderByCode(r.Context(), orderCode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error getting order total", "error", err, "order_code", orderCode)

		return
	}

	if o == nil {
		http.Error(w, "order not found", http.StatusNotFound)

		return
	}

	resp := orderTotalResponse{
		OrderCode: o.OrderCode,
		Total:     float64(o.TotalCents) / 100,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error sending response", "error", err)
	}
}

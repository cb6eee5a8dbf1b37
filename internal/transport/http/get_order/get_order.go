package getorder

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

// GetOrder returns a single order with its items by business code.
func GetOrder(w http.ResponseWriter, r *http.Request, service service) {
	orderCode, err := strconv.ParseInt(chi.URLParam(r, "orderCode"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order code", http.StatusBadRequest)

		return
	}

	o, err := service.GetOrderByCode(r.Context(), orderCode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error getting order", "error", err, "order_code", orderCode)

		return
	}

	if o == nil {
		http.Error(w, "order not found", http.StatusNotFound)

		return
	}

	if err := json.NewEncoder(w).Encode(o); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error sending response", "error", err)
	}
}

package countbycustomer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/corray333/order-ingest/internal/service/models/order"
)

type service interface {
	CountByCustomer(ctx context.Context) ([]order.CustomerOrderCount, error)
}

// CountByCustomer returns the number of orders grouped by customer code.
func CountByCustomer(w http.ResponseWriter, r *http.Request, service service) {
	counts, err := service.CountByCustomer(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error counting orders by customer", "error", err)

		return
	}

	if err := json.NewEncoder(w).Encode(counts); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error sending response", "error", err)
	}
}

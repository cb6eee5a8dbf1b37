package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/corray333/order-ingest/internal/service/models/order"
	countbycustomer "github.com/corray333/order-ingest/internal/transport/http/count_by_customer"
	getorder "github.com/corray333/order-ingest/internal/transport/http/get_order"
	listorders "github.com/corray333/order-ingest/internal/transport/http/list_orders"
	ordertotal "github.com/corray333/order-ingest/internal/transport/http/order_total"
	"github.com/corray333/order-ingest/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
)

// service is the read-only API the transport exposes over persisted orders.
type service interface {
	GetOrders(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error)
	GetOrderByCode(ctx context.Context, orderCode int64) (*order.Order, error)
	CountByCustomer(ctx context.Context) ([]order.CustomerOrderCount, error)
}

type HTTPTransport struct {
	server  *http.Server
	router  *chi.Mux
	service service
}

func NewHTTPTransport(service service) *HTTPTransport {
	router := newRouter()
	server := newServer(router)

	return &HTTPTransport{
		server:  server,
		router:  router,
		service: service,
	}
}

func (h *HTTPTransport) Run() error {
	return h.server.ListenAndServe()
}

func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Route("/api", func(r chi.Router) {
		r.Get("/orders", h.listOrders)
		r.Get("/orders/stats/count", h.countByCustomer)
		r.Get("/orders/customer/{customerCode}", h.listOrdersByCustomer)
		r.Get("/orders/{orderCode}", h.getOrder)
		r.Get("/orders/{orderCode}/total", h.orderTotal)
	})
}

func (h *HTTPTransport) listOrders(w http.ResponseWriter, r *http.Request) {
	listorders.ListOrders(w, r, h.service)
}

func (h *HTTPTransport) listOrdersByCustomer(w http.ResponseWriter, r *http.Request) {
	listorders.ListOrdersByCustomer(w, r, h.service)
}

func (h *HTTPTransport) getOrder(w http.ResponseWriter, r *http.Request) {
	getorder.GetOrder(w, r, h.service)
}

func (h *HTTPTransport) orderTotal(w http.ResponseWriter, r *http.Request) {
	ordertotal.OrderTotal(w, r, h.service)
}

func (h *HTTPTransport) countByCustomer(w http.ResponseWriter, r *http.Request) {
	countbycustomer.CountByCustomer(w, r, h.service)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))

	c := cors.New(cors.Options{
		AllowedOrigins:   viper.GetStringSlice("server.http.cors.allowed_origins"),
		AllowedMethods:   viper.GetStringSlice("server.http.cors.allowed_methods"),
		AllowedHeaders:   viper.GetStringSlice("server.http.cors.allowed_headers"),
		ExposedHeaders:   viper.GetStringSlice("server.http.cors.exposed_headers"),
		AllowCredentials: viper.GetBool("server.http.cors.allow_credentials"),
		MaxAge:           viper.GetInt("server.http.cors.max_age"),
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}

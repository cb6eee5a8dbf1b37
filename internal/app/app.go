package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corray333/order-ingest/internal/dal/postgres"
	"github.com/corray333/order-ingest/internal/otel"
	"github.com/corray333/order-ingest/internal/rabbitmq"
	"github.com/corray333/order-ingest/internal/service/services/ingestsvc"
	"github.com/corray333/order-ingest/internal/transport/consumer"
	httptransport "github.com/corray333/order-ingest/internal/transport/http"
)

// App represents the application.
type App struct {
	ingestSvc      *ingestsvc.IngestService
	consumerTransp *consumer.Consumer
	httpTransp     *httptransport.HTTPTransport
	rabbitMqClient *rabbitmq.Client
	postgresClient *postgres.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	otelController := otel.MustInitOtel()
	rabbitMqClient := rabbitmq.NewClient()
	postgresClient := postgres.MustNewClient()

	ingestSvc := ingestsvc.MustNewIngestService(
		ingestsvc.WithPostgresClient(postgresClient),
	)

	consumerTransp := consumer.NewConsumer(rabbitMqClient, ingestSvc)

	httpTransp := httptransport.NewHTTPTransport(ingestSvc)
	httpTransp.RegisterRoutes()

	return &App{
		ingestSvc:      ingestSvc,
		consumerTransp: consumerTransp,
		httpTransp:     httpTransp,
		rabbitMqClient: rabbitMqClient,
		postgresClient: postgresClient,
		otelController: otelController,
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	// Create a channel to receive OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		slog.Info("Starting consumer")
		if err := a.consumerTransp.Run(ctx); err != nil {
			slog.Error("Consumer error", "error", err)
		}
	}()

	go func() {
		slog.Info("Starting HTTP server")
		if err := a.httpTransp.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	<-stop
	slog.Info("Shutdown signal received")

	// The consumer drains in-flight handlers before this returns, so their
	// database transactions run to completion on a live context. Only then
	// is the run context canceled.
	a.gracefulShutdown()
	cancel()
}

// gracefulShutdown performs graceful shutdown of all application components.
// It shuts down components sequentially: consumer, HTTP server, RabbitMQ,
// PostgreSQL, and OpenTelemetry.
func (a *App) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.consumerTransp.Shutdown(); err != nil {
		slog.Error("Consumer shutdown error", "error", err)
	} else {
		slog.Info("Consumer stopped gracefully")
	}

	if err := a.httpTransp.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.rabbitMqClient.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	} else {
		slog.Info("RabbitMQ connection closed gracefully")
	}

	a.postgresClient.Close()

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Otel trace provider connection close error", "error", err)
	} else {
		slog.Info("Otel trace provider connection closed gracefully")
	}

	select {
	case <-ctx.Done():
		slog.Warn("Shutdown timeout exceeded")
	default:
		slog.Info("Application shutdown complete")
	}
}

package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/corray333/order-ingest/internal/ingest/normalizer"
	"github.com/corray333/order-ingest/internal/ingest/policy"
	"github.com/corray333/order-ingest/internal/ingest/validator"
	"github.com/corray333/order-ingest/internal/rabbitmq"
	"github.com/corray333/order-ingest/internal/service/models/order"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxRetries     = 3
	defaultReconnectDelay = 5 * time.Second
	defaultPrefetch       = 10
	defaultHandlerLimit   = 50
	defaultMaxPrice       = 1_000_000.00
	dlqSuffix             = ".dlq"
)

// service represents the service layer interface.
type service interface {
	UpsertOrder(ctx context.Context, o order.Order) error
}

// broker represents the AMQP client interface. Satisfied by rabbitmq.Client
// and by fakes in tests.
type broker interface {
	Connect() error
	DeclareQueue(cfg rabbitmq.DeclareQueueConfig) (amqp.Queue, error)
	Qos(prefetch int) error
	Consume(cfg rabbitmq.ConsumeConfig) (<-chan amqp.Delivery, error)
	Publish(queue string, msg amqp.Publishing) error
	NotifyClose() chan *amqp.Error
}

// Consumer owns the broker connection lifecycle and drives every delivery
// through decode, validation, normalization and persistence, settling it
// according to the retry policy.
type Consumer struct {
	client         broker
	service        service
	validator      *validator.Validator
	policy         *policy.Policy
	queueName      string
	dlqName        string
	consumerTag    string
	prefetch       int
	handlerLimit   int
	reconnectDelay time.Duration
	stop           chan struct{}
	done           chan struct{}
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *rabbitmq.Client, service service) *Consumer {
	queueName := viper.GetString("rabbitmq.queue")
	if queueName == "" {
		panic("rabbitmq.queue is not set in config")
	}

	consumerTag := viper.GetString("rabbitmq.consumer_tag")
	if consumerTag == "" {
		consumerTag = "order-ingest"
	}

	maxRetries := viper.GetInt("consumer.max_retries")
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	reconnectDelay := viper.GetDuration("consumer.reconnect_delay")
	if reconnectDelay == 0 {
		reconnectDelay = defaultReconnectDelay
	}

	prefetch := viper.GetInt("rabbitmq.prefetch")
	if prefetch == 0 {
		prefetch = defaultPrefetch
	}

	handlerLimit := viper.GetInt("consumer.handler_limit")
	if handlerLimit == 0 {
		handlerLimit = defaultHandlerLimit
	}

	maxPrice := viper.GetFloat64("consumer.max_price")
	if maxPrice == 0 {
		maxPrice = defaultMaxPrice
	}

	return &Consumer{
		client:         client,
		service:        service,
		validator:      validator.New(maxPrice),
		policy:         policy.New(maxRetries),
		queueName:      queueName,
		dlqName:        queueName + dlqSuffix,
		consumerTag:    consumerTag,
		prefetch:       prefetch,
		handlerLimit:   handlerLimit,
		reconnectDelay: reconnectDelay,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Run consumes messages until the context is canceled or Shutdown is
// called. Connectivity loss is treated as always transient: the loop
// reconnects with a fixed delay, without bound.
func (c *Consumer) Run(ctx context.Context) error {
	defer close(c.done)

	g := &errgroup.Group{}
	g.SetLimit(c.handlerLimit)
	defer func() {
		if err := g.Wait(); err != nil {
			slog.Error("Error waiting for message handlers", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			slog.Info("Stopping consumer")

			return nil
		default:
		}

		slog.Info("Connecting to broker", "queue", c.queueName)

		msgs, closeCh, err := c.connect()
		if err != nil {
			slog.Error("Broker connection failed", "error", err)
			if !c.sleep(ctx) {
				return nil
			}

			continue
		}

		slog.Info("Consumer started",
			"queue", c.queueName,
			"dlq", c.dlqName,
			"consumer_tag", c.consumerTag)

		if !c.consume(ctx, g, msgs, closeCh) {
			return nil
		}

		slog.Info("Broker connection lost, reconnecting", "delay", c.reconnectDelay)
		if !c.sleep(ctx) {
			return nil
		}
	}
}

// connect dials the broker, declares the live and dead-letter queues (both
// durable) and opens the subscription.
func (c *Consumer) connect() (<-chan amqp.Delivery, chan *amqp.Error, error) {
	if err := c.client.Connect(); err != nil {
		return nil, nil, err
	}

	for _, name := range []string{c.queueName, c.dlqName} {
		if _, err := c.client.DeclareQueue(rabbitmq.DeclareQueueConfig{
			Name:    name,
			Durable: true,
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}

	if err := c.client.Qos(c.prefetch); err != nil {
		return nil, nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	msgs, err := c.client.Consume(rabbitmq.ConsumeConfig{
		Queue:    c.queueName,
		Consumer: c.consumerTag,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return msgs, c.client.NotifyClose(), nil
}

// consume dispatches deliveries until the subscription dies or the consumer
// is stopped. Returns false when the consumer must exit for good.
func (c *Consumer) consume(
	ctx context.Context,
	g *errgroup.Group,
	msgs <-chan amqp.Delivery,
	closeCh chan *amqp.Error,
) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.stop:
			slog.Info("Stopping consumer")

			return false
		case amqpErr := <-closeCh:
			if amqpErr != nil {
				slog.Error("Channel closed by broker", "error", amqpErr)
			}

			return true
		case msg, ok := <-msgs:
			if !ok {
				slog.Info("Message channel closed")

				return true
			}

			g.Go(func() error {
				c.processMessage(ctx, msg)

				return nil
			})
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}

// processMessage runs the pipeline for a single delivery and settles it.
// No failure is allowed to escape: every error class maps to an ack, a
// requeue, a dead-letter publication or a broker redelivery.
func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	ctx, span := otel.Tracer("consumer").Start(ctx, "Consumer.processMessage")
	defer span.End()

	env := envelopeFromDelivery(msg)

	slog.Info("Received message", "delivery_tag", msg.DeliveryTag, "attempt", env.Attempt)

	raw, err := decode(msg.Body)
	if err != nil {
		slog.Error("Failed to decode message", "error", err, "delivery_tag", msg.DeliveryTag)
		c.settle(msg, c.policy.OnDecodeFailure(env, err))

		return
	}

	if result := c.validator.Validate(raw); !result.Valid {
		slog.Warn("Message failed validation",
			"errors", result.Errors,
			"attempt", env.Attempt,
			"delivery_tag", msg.DeliveryTag)
		c.settle(msg, c.policy.OnValidationFailure(env, result.Errors))

		return
	}

	canonical := normalizer.Normalize(raw)

	if err := c.service.UpsertOrder(ctx, canonical); err != nil {
		slog.Error("Failed to persist order",
			"error", err,
			"order_code", canonical.OrderCode,
			"delivery_tag", msg.DeliveryTag)
		c.settle(msg, c.policy.OnPersistenceFailure(env, err))

		return
	}

	c.settle(msg, c.policy.OnSuccess())

	slog.Info("Message processed successfully", "order_code", canonical.OrderCode)
}

// settle acknowledges or rejects the delivery per the policy decision.
// Requeue and dead-letter publish first and acknowledge the original only
// afterwards; if publishing fails the original is handed back to the broker
// so the message is never lost.
func (c *Consumer) settle(msg amqp.Delivery, d policy.Decision) {
	switch d.Action {
	case policy.ActionAck:
		if err := msg.Ack(false); err != nil {
			slog.Error("Failed to ack message", "error", err)
		}
	case policy.ActionRequeue:
		if err := c.client.Publish(c.queueName, requeuePublishing(msg.Body, d)); err != nil {
			slog.Error("Failed to requeue message", "error", err)
			c.redeliver(msg)

			return
		}

		slog.Info("Message requeued", "attempt", d.Attempt)
		if err := msg.Ack(false); err != nil {
			slog.Error("Failed to ack requeued message", "error", err)
		}
	case policy.ActionDeadLetter:
		if err := c.client.Publish(c.dlqName, deadLetterPublishing(msg.Body, d)); err != nil {
			slog.Error("Failed to dead-letter message", "error", err)
			c.redeliver(msg)

			return
		}

		slog.Warn("Message dead-lettered", "attempt", d.Attempt, "errors", d.Errors)
		if err := msg.Ack(false); err != nil {
			slog.Error("Failed to ack dead-lettered message", "error", err)
		}
	case policy.ActionRedeliver:
		c.redeliver(msg)
	}
}

func (c *Consumer) redeliver(msg amqp.Delivery) {
	if err := msg.Nack(false, true); err != nil {
		slog.Error("Failed to nack message", "error", err)
	}
}

func decode(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode order message: %w", err)
	}

	return raw, nil
}

// Shutdown gracefully shuts down the consumer.
func (c *Consumer) Shutdown() error {
	slog.Info("Shutting down consumer")
	close(c.stop)

	// Wait for processing to finish with timeout
	select {
	case <-c.done:
		slog.Info("Consumer stopped successfully")
	case <-time.After(10 * time.Second):
		slog.Warn("Consumer shutdown timeout")
	}

	return nil
}

package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/viper"
	"github.com/streadway/amqp"
)

// Client represents a RabbitMQ client. Unlike the channel itself, which the
// underlying library does not make safe for concurrent publishing, Publish
// is serialized by an internal mutex so concurrent message handlers can
// requeue and dead-letter safely.
type Client struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewClient creates a RabbitMQ client. It does not dial: connectivity is
// owned by the consumer loop, which reconnects for as long as the process
// lives.
func NewClient() *Client {
	return &Client{}
}

// Connect dials the broker and opens a channel, replacing any previous ones.
func (r *Client) Connect() error {
	conn, err := amqp.Dial(connString())
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Error("Failed to close connection after channel error", "error", closeErr)
		}

		return fmt.Errorf("failed to open a channel: %w", err)
	}

	r.mu.Lock()
	r.closeStaleLocked()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()

	slog.Info("RabbitMQ connected")

	return nil
}

// closeStaleLocked drops the previous channel and connection so reconnect
// cycles do not leak sockets. The broker may already have torn them down, in
// which case closing reports ErrClosed and there is nothing to do.
func (r *Client) closeStaleLocked() {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			slog.Warn("Failed to close stale channel", "error", err)
		}
		r.channel = nil
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			slog.Warn("Failed to close stale connection", "error", err)
		}
		r.conn = nil
	}
}

// NotifyClose registers a listener for channel-level close events of the
// current channel.
func (r *Client) NotifyClose() chan *amqp.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.channel.NotifyClose(make(chan *amqp.Error, 1))
}

// Close closes the channel and then the connection for graceful shutdown.
func (r *Client) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			return err
		}
	}
	if r.conn != nil {
		return r.conn.Close()
	}

	return nil
}

func connString() string {
	if uri := os.Getenv("RABBITMQ_URI"); uri != "" {
		return uri
	}

	host := viper.GetString("rabbitmq.host")
	port := viper.GetInt("rabbitmq.port")
	user := viper.GetString("rabbitmq.user")
	password := viper.GetString("rabbitmq.password")

	if host == "" {
		host = "rabbitmq"
	}
	if port == 0 {
		port = 5672
	}

	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d/",
		user,
		password,
		host,
		port,
	)
}

type DeclareQueueConfig struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp.Table
}

// DeclareQueue declares a queue with the given configuration.
func (r *Client) DeclareQueue(cfg DeclareQueueConfig) (amqp.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.channel.QueueDeclare(
		cfg.Name,
		cfg.Durable,
		cfg.AutoDelete,
		cfg.Exclusive,
		cfg.NoWait,
		cfg.Args,
	)
}

// Qos sets the prefetch count on the channel.
func (r *Client) Qos(prefetch int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.channel.Qos(prefetch, 0, false)
}

type ConsumeConfig struct {
	Queue     string
	Consumer  string
	AutoAck   bool
	Exclusive bool
	NoLocal   bool
	NoWait    bool
	Args      amqp.Table
}

// Consume starts consuming messages from the queue.
func (r *Client) Consume(cfg ConsumeConfig) (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.channel.Consume(
		cfg.Queue,
		cfg.Consumer,
		cfg.AutoAck,
		cfg.Exclusive,
		cfg.NoLocal,
		cfg.NoWait,
		cfg.Args,
	)
}

// Publish sends a message to the given queue via the default exchange.
func (r *Client) Publish(queue string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.channel.Publish("", queue, false, false, msg)
}

package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corray333/order-ingest/internal/ingest/policy"
	"github.com/corray333/order-ingest/internal/ingest/validator"
	"github.com/corray333/order-ingest/internal/rabbitmq"
	"github.com/corray333/order-ingest/internal/service/models/failure"
	"github.com/corray333/order-ingest/internal/service/models/order"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nackCall struct {
	tag     uint64
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []nackCall
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)

	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, nackCall{tag: tag, requeue: requeue})

	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type published struct {
	queue string
	msg   amqp.Publishing
}

type fakeBroker struct {
	mu          sync.Mutex
	connectErrs int
	connects    int
	declared    []string
	deliveries  chan amqp.Delivery
	closeCh     chan *amqp.Error
	published   []published
	publishErr  error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		deliveries: make(chan amqp.Delivery, 16),
		closeCh:    make(chan *amqp.Error, 1),
	}
}

func (b *fakeBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.connects <= b.connectErrs {
		return errors.New("dial tcp: connection refused")
	}

	return nil
}

func (b *fakeBroker) DeclareQueue(cfg rabbitmq.DeclareQueueConfig) (amqp.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared = append(b.declared, cfg.Name)

	return amqp.Queue{Name: cfg.Name}, nil
}

func (b *fakeBroker) Qos(_ int) error {
	return nil
}

func (b *fakeBroker) Consume(_ rabbitmq.ConsumeConfig) (<-chan amqp.Delivery, error) {
	return b.deliveries, nil
}

func (b *fakeBroker) Publish(queue string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{queue: queue, msg: msg})

	return nil
}

func (b *fakeBroker) NotifyClose() chan *amqp.Error {
	return b.closeCh
}

func (b *fakeBroker) publishedTo(queue string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []published
	for _, p := range b.published {
		if p.queue == queue {
			result = append(result, p)
		}
	}

	return result
}

type fakeService struct {
	mu  sync.Mutex
	err error
	got []order.Order
}

func (s *fakeService) UpsertOrder(_ context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, o)

	return nil
}

func (s *fakeService) orders() []order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]order.Order(nil), s.got...)
}

func newTestConsumer(b *fakeBroker, svc service) *Consumer {
	return &Consumer{
		client:         b,
		service:        svc,
		validator:      validator.New(1_000_000),
		policy:         policy.New(3),
		queueName:      "orders",
		dlqName:        "orders.dlq",
		consumerTag:    "test",
		prefetch:       1,
		handlerLimit:   4,
		reconnectDelay: 10 * time.Millisecond,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func delivery(body string, headers amqp.Table) (amqp.Delivery, *fakeAcknowledger) {
	ack := &fakeAcknowledger{}

	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		Headers:      headers,
		Body:         []byte(body),
	}, ack
}

const wellFormedBody = `{"codigoPedido":1001,"codigoCliente":7,` +
	`"itens":[{"produto":"lápis","quantidade":3,"preco":1.10},` +
	`{"produto":"caderno","quantidade":2,"preco":15.00}]}`

func TestProcessMessage_SuccessAcks(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	msg, ack := delivery(wellFormedBody, nil)
	c.processMessage(context.Background(), msg)

	require.Len(t, svc.orders(), 1)
	got := svc.orders()[0]
	assert.Equal(t, int64(1001), got.OrderCode)
	assert.Equal(t, int64(7), got.CustomerCode)
	assert.Equal(t, int64(3330), got.TotalCents)

	assert.Equal(t, []uint64{1}, ack.acks)
	assert.Empty(t, ack.nacks)
	assert.Empty(t, b.published)
}

func TestProcessMessage_IdempotentReplay(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	first, firstAck := delivery(wellFormedBody, nil)
	second, secondAck := delivery(wellFormedBody, nil)

	c.processMessage(context.Background(), first)
	c.processMessage(context.Background(), second)

	// Both deliveries are acknowledged; deduplication is the store's job,
	// keyed by the order code, so the service sees the same code twice.
	require.Len(t, svc.orders(), 2)
	assert.Equal(t, svc.orders()[0].OrderCode, svc.orders()[1].OrderCode)
	assert.Len(t, firstAck.acks, 1)
	assert.Len(t, secondAck.acks, 1)
}

func TestProcessMessage_MalformedJSONDeadLettersImmediately(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	msg, ack := delivery(`{"codigoPedido":`, nil)
	c.processMessage(context.Background(), msg)

	assert.Empty(t, svc.orders())
	assert.Empty(t, b.publishedTo("orders"), "malformed payloads are never requeued")

	dlq := b.publishedTo("orders.dlq")
	require.Len(t, dlq, 1)
	assert.Equal(t, []byte(`{"codigoPedido":`), dlq[0].msg.Body)
	assert.Equal(t, int32(0), dlq[0].msg.Headers[headerRetryCount])
	assert.Equal(t, `{"codigoPedido":`, dlq[0].msg.Headers[headerOriginalMessage])
	assert.NotEmpty(t, dlq[0].msg.Headers[headerError])

	assert.Equal(t, []uint64{1}, ack.acks)
	assert.Empty(t, ack.nacks)
}

func TestProcessMessage_ValidationFailureRequeues(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	msg, ack := delivery(`{"codigoPedido":"nope","codigoCliente":7,"itens":[{"produto":"x","quantidade":1,"preco":1}]}`, nil)
	c.processMessage(context.Background(), msg)

	requeued := b.publishedTo("orders")
	require.Len(t, requeued, 1)
	assert.Equal(t, int32(1), requeued[0].msg.Headers[headerRetryCount])
	assert.Contains(t, requeued[0].msg.Headers[headerError], "codigoPedido")
	assert.Equal(t, msg.Body, requeued[0].msg.Body)

	assert.Equal(t, []uint64{1}, ack.acks)
	assert.Empty(t, b.publishedTo("orders.dlq"))
}

func TestProcessMessage_BoundedRetryThenDeadLetter(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	body := `{"codigoCliente":7}`

	// Simulate the full broker round trip: every requeue comes back with
	// the headers the consumer published.
	headers := amqp.Table(nil)
	requeues := 0
	for i := 0; i < 10; i++ {
		msg, _ := delivery(body, headers)
		c.processMessage(context.Background(), msg)

		live := b.publishedTo("orders")
		if len(live) == requeues {
			break
		}

		requeues = len(live)
		headers = live[len(live)-1].msg.Headers
	}

	assert.Equal(t, 3, requeues, "requeued exactly max_retries times")

	dlq := b.publishedTo("orders.dlq")
	require.Len(t, dlq, 1)
	assert.Equal(t, int32(3), dlq[0].msg.Headers[headerRetryCount])
	assert.Equal(t, []byte(body), dlq[0].msg.Body)
}

func TestProcessMessage_TransientFailureLeavesRedelivery(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{err: failure.Transient(errors.New("connection reset"))}
	c := newTestConsumer(b, svc)

	msg, ack := delivery(wellFormedBody, nil)
	c.processMessage(context.Background(), msg)

	assert.Empty(t, b.published)
	assert.Empty(t, ack.acks)
	require.Len(t, ack.nacks, 1)
	assert.True(t, ack.nacks[0].requeue)
}

func TestProcessMessage_PermanentFailureFollowsRetryBound(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{err: failure.Permanent(errors.New("numeric overflow"))}
	c := newTestConsumer(b, svc)

	msg, _ := delivery(wellFormedBody, amqp.Table{headerRetryCount: int32(3)})
	c.processMessage(context.Background(), msg)

	dlq := b.publishedTo("orders.dlq")
	require.Len(t, dlq, 1)
	assert.Contains(t, dlq[0].msg.Headers[headerError], "numeric overflow")
}

func TestProcessMessage_PublishFailureFallsBackToRedelivery(t *testing.T) {
	b := newFakeBroker()
	b.publishErr = errors.New("channel closed")
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	msg, ack := delivery(`{"codigoCliente":7}`, nil)
	c.processMessage(context.Background(), msg)

	// The original must not be lost when republishing fails.
	assert.Empty(t, ack.acks)
	require.Len(t, ack.nacks, 1)
	assert.True(t, ack.nacks[0].requeue)
}

func TestRun_ReconnectsAfterFailedDial(t *testing.T) {
	b := newFakeBroker()
	b.connectErrs = 1
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = c.Run(ctx)
	}()

	b.deliveries <- func() amqp.Delivery {
		msg, _ := delivery(wellFormedBody, nil)

		return msg
	}()

	require.Eventually(t, func() bool {
		return len(svc.orders()) == 1
	}, 2*time.Second, 10*time.Millisecond, "consumer did not recover from failed dial")

	b.mu.Lock()
	connects := b.connects
	declared := append([]string(nil), b.declared...)
	b.mu.Unlock()

	assert.Equal(t, 2, connects)
	assert.Contains(t, declared, "orders")
	assert.Contains(t, declared, "orders.dlq")

	cancel()
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on context cancellation")
	}
}

func TestRun_ResubscribesAfterChannelClose(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = c.Run(ctx)
	}()

	msg, _ := delivery(wellFormedBody, nil)
	b.deliveries <- msg

	require.Eventually(t, func() bool {
		return len(svc.orders()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Broker drops the channel; the consumer must come back on its own.
	b.closeCh <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"}

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()

		return b.connects == 2
	}, 2*time.Second, 10*time.Millisecond, "consumer did not reconnect")

	b.deliveries <- func() amqp.Delivery {
		m, _ := delivery(wellFormedBody, nil)
		m.DeliveryTag = 2

		return m
	}()

	require.Eventually(t, func() bool {
		return len(svc.orders()) == 2
	}, 2*time.Second, 10*time.Millisecond, "consumer did not resume processing")
}

type blockingService struct {
	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	finished bool
	ctxErr   error
}

func (s *blockingService) UpsertOrder(ctx context.Context, _ order.Order) error {
	close(s.started)
	<-s.release

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.ctxErr = ctx.Err()

	return nil
}

func TestShutdown_WaitsForInFlightHandlers(t *testing.T) {
	b := newFakeBroker()
	svc := &blockingService{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := newTestConsumer(b, svc)

	go func() {
		_ = c.Run(context.Background())
	}()

	msg, ack := delivery(wellFormedBody, nil)
	b.deliveries <- msg

	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not start")
	}

	shutdownDone := make(chan struct{})
	go func() {
		_ = c.Shutdown()
		close(shutdownDone)
	}()

	// Shutdown must not return while a handler is still in flight.
	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before the in-flight handler finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(svc.release)

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return after the handler finished")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.finished)
	// The handler ran to completion on a live context.
	assert.NoError(t, svc.ctxErr)
	assert.Len(t, ack.acks, 1)
}

func TestShutdown_ClosesCleanly(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background())
	}()

	// Let the consumer reach its subscription before stopping it.
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()

		return b.connects == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Shutdown())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "object", body: `{"codigoPedido":1}`},
		{name: "empty object", body: `{}`},
		{name: "truncated", body: `{"codigoPedido":`, wantErr: true},
		{name: "array", body: `[1,2]`, wantErr: true},
		{name: "garbage", body: `not json`, wantErr: true},
		{name: "empty", body: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := decode([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			if tt.body != `{}` {
				assert.NotEmpty(t, raw)
			}
		})
	}
}

func TestProcessMessage_ValidationReportsEveryDefect(t *testing.T) {
	b := newFakeBroker()
	svc := &fakeService{}
	c := newTestConsumer(b, svc)

	msg, _ := delivery(`{"codigoPedido":"nope","codigoCliente":7,"itens":[{"produto":"x","quantidade":-1,"preco":1}]}`, nil)
	c.processMessage(context.Background(), msg)

	requeued := b.publishedTo("orders")
	require.Len(t, requeued, 1)

	errHeader, ok := requeued[0].msg.Headers[headerError].(string)
	require.True(t, ok)
	assert.Contains(t, errHeader, "codigoPedido")
	assert.Contains(t, errHeader, "quantidade")
	assert.Equal(t, 2, len(splitHistory(errHeader)), fmt.Sprintf("header: %s", errHeader))
}

func splitHistory(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, historySeparator)
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/authbatch/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName = "authbatch.dlx"

	// taskDeliveryLimit bounds how often a task is redelivered after its
	// handler failed before the broker dead-letters it.
	taskDeliveryLimit   = 20
	deliveryCountHeader = "x-delivery-count"

	connectionName  = "authbatch"
	dialTimeout     = 15 * time.Second
	brokerHeartbeat = 10 * time.Second
)

var errBrokerClosed = errors.New("rabbitmq connection is closed")

// queueDecl declares one durable queue of the broker topology.
type queueDecl struct {
	name string
	// bindKey binds the queue to the dead-letter exchange when set.
	bindKey string
	args    amqp.Table
}

// topology lists the queues each operation needs: a quorum work queue that
// dead-letters into a classic DLQ once a task is rejected or exceeds the
// delivery limit.
func topology() []queueDecl {
	decls := make([]queueDecl, 0, 2*len(supportedOperations))
	for _, op := range supportedOperations {
		key := operationRoutingKey(op)
		decls = append(decls,
			queueDecl{name: DLQName(op), bindKey: key},
			queueDecl{name: QueueName(op), args: amqp.Table{
				"x-queue-type":              "quorum",
				"x-delivery-limit":          int32(taskDeliveryLimit),
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": key,
			}},
		)
	}
	return decls
}

// RabbitMQ owns one broker connection shared by publishers and consumers.
// A dropped connection is redialed lazily by the next channel request.
type RabbitMQ struct {
	url string

	mu   sync.RWMutex
	conn *amqp.Connection
	// dialMu serializes redials so concurrent callers share one attempt.
	dialMu sync.Mutex
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping reports an error when the broker connection is down.
func (r *RabbitMQ) Ping(context.Context) error {
	if r.live() == nil {
		return errBrokerClosed
	}
	return nil
}

func (r *RabbitMQ) live() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn
}

// channel opens a channel on the live connection, redialing once if the
// connection died between the check and the open.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for attempt := 0; ; attempt++ {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err == nil {
			return ch, nil
		}
		if attempt > 0 || !errors.Is(err, amqp.ErrClosed) {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
	}
}

// connection returns the live connection, dialing with backoff until ctx
// ends if there is none.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.live(); conn != nil {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if conn := r.live(); conn != nil {
		return conn, nil
	}

	var retry backoff
	for {
		conn, err := r.dial()
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			return conn, nil
		}

		if waitErr := retry.wait(ctx); waitErr != nil {
			return nil, fmt.Errorf("rabbitmq unreachable (last error: %v): %w", err, waitErr)
		}
	}
}

// dial connects and declares the topology on a fresh connection.
func (r *RabbitMQ) dial() (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)

	conn, err := amqp.DialConfig(r.url, amqp.Config{
		Heartbeat:  brokerHeartbeat,
		Properties: props,
	})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := declareTopology(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", dlxExchangeName, err)
	}

	for _, q := range topology() {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.name, err)
		}
		if q.bindKey == "" {
			continue
		}
		if err := ch.QueueBind(q.name, q.bindKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", q.name, err)
		}
	}
	return nil
}

func operationRoutingKey(op domain.Operation) string {
	return strings.ToLower(op.String())
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer feeds chunk tasks to a handler one delivery at a time per
// Consume call. Tasks the handler fails are requeued until the queue's
// delivery limit dead-letters them.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: max(prefetch, 1),
		logger:   logger,
	}
}

// Consume blocks until ctx ends, resubscribing with backoff whenever the
// channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("message handler is required")
	}

	var retry backoff
	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			retry.reset()
			continue
		}

		c.logger.Warn("consumer subscription lost, resubscribing",
			zap.String("queue", queue),
			zap.Duration("backoff", retry.peek()),
			zap.Error(err),
		)
		if waitErr := retry.wait(ctx); waitErr != nil {
			break
		}
	}
	return nil
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.dispatch(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// dispatch settles exactly one delivery. The returned error is about the
// broker, never about the task.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeDelivery(d)
	if err != nil {
		c.logger.Warn("dead-lettering undecodable task",
			zap.String("routingKey", d.RoutingKey),
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject task: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, msg); err != nil {
		c.logger.Warn("requeueing task: handler failed",
			zap.String("taskId", msg.TaskID),
			zap.String("batchId", msg.BatchID),
			zap.Int64("deliveryCount", deliveryCount(d)),
			zap.Error(err),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}
	return nil
}

func decodeDelivery(d amqp.Delivery) (ChunkMessage, error) {
	var msg ChunkMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return ChunkMessage{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return ChunkMessage{}, err
	}
	if d.MessageId != "" && d.MessageId != msg.TaskID {
		return ChunkMessage{}, fmt.Errorf("message id %q does not match task id %q", d.MessageId, msg.TaskID)
	}
	return msg, nil
}

// deliveryCount is the broker's redelivery counter; zero on first delivery.
func deliveryCount(d amqp.Delivery) int64 {
	switch v := d.Headers[deliveryCountHeader].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

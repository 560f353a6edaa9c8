package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/authbatch/internal/domain"
)

// Publisher publishes chunk tasks to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg ChunkMessage) error
	Close() error
}

// MessageHandler handles a consumed chunk task.
type MessageHandler func(ctx context.Context, msg ChunkMessage) error

// Consumer consumes chunk tasks from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedOperations = []domain.Operation{
	domain.OperationPasswordReset,
	domain.OperationUserImport,
	domain.OperationUserDelete,
}

const queuePrefix = "bulk."

// QueueName returns the work queue for an operation, e.g. bulk.password_reset.
func QueueName(op domain.Operation) string {
	return queuePrefix + op.String()
}

// DLQName returns the dead-letter queue for an operation, e.g. dlq.bulk.user_delete.
func DLQName(op domain.Operation) string {
	return fmt.Sprintf("dlq.%s", QueueName(op))
}

// WorkQueueNames returns one work queue per operation.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedOperations))
	for _, op := range supportedOperations {
		queues = append(queues, QueueName(op))
	}
	return queues
}

// DLQNames returns one dead-letter queue per operation.
func DLQNames() []string {
	queues := make([]string, 0, len(supportedOperations))
	for _, op := range supportedOperations {
		queues = append(queues, DLQName(op))
	}
	return queues
}

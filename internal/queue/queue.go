package queue

import (
	"context"
	"fmt"
)

// Publisher publishes delivery reports to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DeliveryReportMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DeliveryReportMessage) error

// Consumer consumes delivery reports from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DeliveryReportQueue carries vendor delivery webhooks to the DLR worker.
const DeliveryReportQueue = "sms.dlr"

var workQueues = []string{DeliveryReportQueue}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.sms.dlr.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	out := make([]string, len(workQueues))
	copy(out, workQueues)
	return out
}

// DLQNames returns the dead-letter queue of every work queue.
func DLQNames() []string {
	queues := make([]string, 0, len(workQueues))
	for _, q := range workQueues {
		queues = append(queues, DLQName(q))
	}
	return queues
}

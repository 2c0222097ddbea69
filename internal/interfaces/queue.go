package interfaces

import "context"

// QueueMessage is the opaque envelope dispatched through a named queue.
type QueueMessage struct {
	JobID    string
	Queue    string
	Payload  []byte // opaque JSON payload
	Attempts int
}

// RetryPolicy configures exponential backoff for a queue.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelayMS int
	Factor      float64
}

// JobHandler processes one dequeued message. Returning an error causes a
// retry per the queue's RetryPolicy; returning nil acknowledges the
// message.
type JobHandler func(ctx context.Context, msg QueueMessage) error

// QueueManager exposes named FIFO queues keyed by (task_type, engine),
// providing an at-least-once execution contract with at-most-one
// concurrent handler per jobId across the fleet.
type QueueManager interface {
	Enqueue(ctx context.Context, queueName, jobID string, payload []byte, policy RetryPolicy) error
	GetJob(ctx context.Context, queueName, jobID string) (*QueueMessage, error)
	RemoveJob(ctx context.Context, queueName, jobID string) error
	Register(queueName string, handler JobHandler)
	// Start launches worker goroutines for every registered queue until
	// ctx is cancelled.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

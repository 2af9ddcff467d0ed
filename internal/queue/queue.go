package queue

import "context"

// Queue names. Transfers arrive on the intake queue; repair lifecycle
// events for operational tooling go out on the repair event queues.
const (
	TransfersQueue       = "transfers.inbound"
	TransfersDLQ         = "dlq.transfers"
	RepairEscalatedQueue = "repair.escalated"
	RepairExhaustedQueue = "repair.exhausted"
)

// Publisher publishes messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// MessageHandler handles a consumed transfer message.
type MessageHandler func(ctx context.Context, msg TransferMessage) error

// Consumer consumes transfer messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// Message is any broker payload with self-validation and an identity used
// as the broker message id.
type Message interface {
	Validate() error
	MessageID() string
	CorrelationKey() string
	PriorityValue() uint8
}

package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medflow/medflow-pharmacy/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one event. Returning an error requeues the
// message until the retry limit is reached.
type MessageHandler func(ctx context.Context, event *Event) error

// Outcome is what the consumer does with a delivery after handling it
type Outcome int

const (
	// Ack removes the message from the queue
	Ack Outcome = iota
	// Requeue republishes the message to the back of its queue with the
	// retry count raised
	Requeue
	// DeadLetter rejects the message into the dead letter exchange
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// DefaultMaxRetries is how many failed attempts a message gets before it is dead-lettered
const DefaultMaxRetries = 3

// RetryHeader counts the failed attempts of a message republished for retry
const RetryHeader = "x-retry-count"

// republisher is the publishing side of an AMQP channel
type republisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer reads events from one queue and routes them to handlers by type
type Consumer struct {
	rmq        *RabbitMQ
	queueName  string
	handlers   map[string]MessageHandler
	maxRetries int
	logger     *logger.Logger
}

// NewConsumer declares the queue and returns a consumer for it
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return newConsumer(rmq, queueName, log), nil
}

func newConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) *Consumer {
	return &Consumer{
		rmq:        rmq,
		queueName:  queueName,
		handlers:   make(map[string]MessageHandler),
		maxRetries: DefaultMaxRetries,
		logger:     log.WithComponent("consumer"),
	}
}

// SetMaxRetries changes the retry limit. Values below 1 are ignored.
func (c *Consumer) SetMaxRetries(n int) {
	if n >= 1 {
		c.maxRetries = n
	}
}

// Subscribe binds the queue to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")
	return nil
}

// RegisterHandler registers a handler for an event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start consumes in a background goroutine until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.rmq.openChannel()
	if err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Str("queue", c.queueName).Msg("delivery channel closed")
					return
				}
				retries := retryCount(msg.Headers)
				c.settle(ctx, ch, msg, c.Dispatch(ctx, msg.Body, retries), retries)
			}
		}
	}()

	return nil
}

// Dispatch decodes a message body, runs the matching handler and decides the
// outcome. retries is the number of earlier failed attempts.
func (c *Consumer) Dispatch(ctx context.Context, body []byte, retries int) Outcome {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error().Err(err).Str("queue", c.queueName).Msg("failed to unmarshal event")
		return DeadLetter
	}

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().Str("event_type", event.Type).Msg("no handler registered for event type")
		return Ack
	}

	log := c.logger.WithCorrelationID(event.CorrelationID)
	ctx = WithCorrelationID(ctx, event.CorrelationID)
	if err := handler(ctx, &event); err != nil {
		outcome := Requeue
		if retries+1 >= c.maxRetries {
			outcome = DeadLetter
		}
		log.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Int("retries", retries).
			Str("outcome", outcome.String()).
			Msg("failed to process event")
		return outcome
	}

	log.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Msg("event processed")
	return Ack
}

// settle applies an outcome to a delivery. retries is the count the
// delivery arrived with.
func (c *Consumer) settle(ctx context.Context, pub republisher, msg amqp.Delivery, outcome Outcome, retries int) {
	var err error
	switch outcome {
	case Ack:
		err = msg.Ack(false)
	case Requeue:
		err = c.retry(ctx, pub, msg, retries+1)
	default:
		err = msg.Reject(false)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("outcome", outcome.String()).Msg("failed to settle delivery")
	}
}

// retry republishes the message to its own queue carrying the new attempt
// count and acks the original. A plain requeue would arrive unchanged, so
// the count could never reach the limit. If the republish fails the
// original is requeued as it is.
func (c *Consumer) retry(ctx context.Context, pub republisher, msg amqp.Delivery, attempts int) error {
	headers := make(amqp.Table, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(attempts)

	err := pub.PublishWithContext(ctx, "", c.queueName, false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  msg.DeliveryMode,
		CorrelationId: msg.CorrelationId,
		MessageId:     msg.MessageId,
		Timestamp:     msg.Timestamp,
		Type:          msg.Type,
		Body:          msg.Body,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("queue", c.queueName).Int("attempts", attempts).Msg("failed to republish for retry")
		return msg.Nack(false, true)
	}
	return msg.Ack(false)
}

// retryCount reads the attempt count set by retry
func retryCount(headers amqp.Table) int {
	switch n := headers[RetryHeader].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

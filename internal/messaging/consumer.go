package messaging

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeliveryHandler processes one delivery. The returned bool decides the
// acknowledgement: true acks, false rejects without requeue.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, delivery amqp.Delivery) bool
}

// Consumer reads a durable queue and dispatches deliveries to a handler one
// at a time.
type Consumer struct {
	conn      *amqp.Connection
	queueName string
	handler   DeliveryHandler
	logger    *zap.Logger
	channel   *amqp.Channel
	done      chan struct{}
}

func NewConsumer(conn *amqp.Connection, queueName string, handler DeliveryHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		logger:    logger.Named("consumer").With(zap.String("queue", queueName)),
		done:      make(chan struct{}),
	}
}

// Start declares the queue and consumes it until the context is canceled or
// Stop is called. Prefetch is 1: media tasks are long-running and cheap to
// redistribute across workers.
func (c *Consumer) Start(ctx context.Context) error {
	var err error
	c.channel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to declare queue '%s': %w", c.queueName, err)
	}

	if err := c.channel.Qos(1, 0, false); err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started, waiting for messages...")

	go func() {
		defer c.logger.Info("Consumer loop stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case delivery, ok := <-msgs:
				if !ok {
					c.logger.Warn("Delivery channel closed")
					return
				}
				if c.handler.HandleDelivery(ctx, delivery) {
					if err := delivery.Ack(false); err != nil {
						c.logger.Error("Failed to ack delivery", zap.Error(err))
					}
				} else {
					if err := delivery.Nack(false, false); err != nil {
						c.logger.Error("Failed to nack delivery", zap.Error(err))
					}
				}
			}
		}
	}()
	return nil
}

// Stop terminates the consume loop and closes the channel.
func (c *Consumer) Stop() {
	close(c.done)
	if c.channel != nil {
		_ = c.channel.Close()
	}
}

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"taleforge-server/internal/models"
)

// TaskPublisher publishes media generation tasks for the worker.
type TaskPublisher interface {
	PublishMediaTask(ctx context.Context, payload MediaTaskPayload) error
}

// ClientUpdatePublisher publishes row-change notifications for websocket
// subscribers.
type ClientUpdatePublisher interface {
	PublishClientUpdate(ctx context.Context, payload models.ClientUpdate) error
}

// rabbitMQPublisher implements both publisher interfaces over one channel and
// queue. Important: assumes the channel is already open.
type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQTaskPublisher opens a channel and declares the media task queue.
// The publisher declares too so the system tolerates service start order;
// queue parameters must match the consumer's.
func NewRabbitMQTaskPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (TaskPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("task publisher: failed to open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("task publisher: failed to declare queue '%s': %w", queueName, err)
	}
	return &rabbitMQPublisher{channel: ch, queueName: queueName, logger: logger.Named("task_publisher")}, nil
}

// NewRabbitMQClientUpdatePublisher opens a channel and declares the client
// updates queue.
func NewRabbitMQClientUpdatePublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (ClientUpdatePublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("client update publisher: failed to open channel: %w", err)
	}
	_, err = ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("client update publisher: failed to declare queue '%s': %w", queueName, err)
	}
	return &rabbitMQPublisher{channel: ch, queueName: queueName, logger: logger.Named("client_update_publisher")}, nil
}

func (p *rabbitMQPublisher) PublishMediaTask(ctx context.Context, payload MediaTaskPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal media task %s: %w", payload.TaskID, err)
	}
	if err := p.publishMessage(ctx, body); err != nil {
		return fmt.Errorf("failed to publish media task %s: %w", payload.TaskID, err)
	}
	p.logger.Debug("Media task published",
		zap.String("task_id", payload.TaskID.String()),
		zap.String("kind", string(payload.Kind)),
		zap.String("segment_id", payload.SegmentID.String()))
	return nil
}

func (p *rabbitMQPublisher) PublishClientUpdate(ctx context.Context, payload models.ClientUpdate) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal client update: %w", err)
	}
	return p.publishMessage(ctx, body)
}

// publishMessage sends one persistent message to the default exchange with
// the queue name as routing key, retrying up to 3 times.
func (p *rabbitMQPublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return errors.New("rabbitmq channel is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (default)
			p.queueName, // routing key
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        "taleforge-server",
			},
		)
		if err == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed",
			zap.String("queue", p.queueName), zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return fmt.Errorf("failed to publish to queue %s after retries: %w", p.queueName, err)
}

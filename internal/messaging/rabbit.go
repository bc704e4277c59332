// internal/messaging/rabbit.go
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"fair/internal/metrics"
	"fair/internal/model"
)

const (
	AuditQueue = "fair_audit_queue"
	AuditDLQ   = "fair_audit_dlq"
)

type RabbitClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	URL     string

	// amqp channels are not safe for concurrent publishes.
	mu sync.Mutex
}

func NewRabbitClient(url string) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &RabbitClient{
		conn:    conn,
		channel: ch,
		URL:     url,
	}, nil
}

func (r *RabbitClient) GetConnection() *amqp.Connection {
	return r.conn
}

// DeclareQueues creates the durable audit queue and its dead-letter queue.
func (r *RabbitClient) DeclareQueues() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.channel.QueueDeclare(
		AuditDLQ,
		true, false, false, false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": AuditDLQ,
	}
	_, err = r.channel.QueueDeclare(
		AuditQueue,
		true, false, false, false,
		args,
	)
	if err != nil {
		return fmt.Errorf("declare main queue: %w", err)
	}

	zap.L().Info("audit queues declared", zap.String("queue", AuditQueue), zap.String("dlq", AuditDLQ))
	return nil
}

// Publish sends one audit event as a persistent JSON message.
func (r *RabbitClient) Publish(ctx context.Context, e model.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.channel.Publish(
		"",         // default exchange
		AuditQueue, // routing key (queue name)
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID.String(),
			Timestamp:    e.At,
			Type:         e.Event,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", AuditQueue, err)
	}
	return nil
}

// Close cleans up connection and channel
func (r *RabbitClient) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	if err := r.conn.Close(); err != nil {
		return err
	}
	return nil
}

// UpdateQueueDepth samples both audit queues into the queue depth gauge.
func (r *RabbitClient) UpdateQueueDepth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range []string{AuditQueue, AuditDLQ} {
		q, err := r.channel.QueueInspect(name)
		if err != nil {
			zap.L().Warn("failed to inspect queue", zap.String("queue", name), zap.Error(err))
			continue
		}
		metrics.QueueDepth.WithLabelValues(name).Set(float64(q.Messages))
	}
}

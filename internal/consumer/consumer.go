// internal/consumer/consumer.go
package consumer

import (
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"fair/internal/metrics"
)

type MessageHandlerFunc func(delivery amqp.Delivery)

// Consumer reads one queue on a dedicated channel and passes every delivery
// to Handler. Deliveries are never auto-acked: Handler settles them.
type Consumer struct {
	QueueName   string
	Channel     *amqp.Channel
	StopChan    chan struct{}
	DoneChan    chan struct{}
	Handler     MessageHandlerFunc
	ConsumerTag string
}

// StartConsumer opens its own channel on conn and hands every delivery from
// queueName to handler. prefetch bounds the unacknowledged deliveries in
// flight.
func StartConsumer(conn *amqp.Connection, queueName string, prefetch int, handler MessageHandlerFunc) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("queue %s: failed to open channel: %w", queueName, err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("queue %s: failed to set qos: %w", queueName, err)
		}
	}

	c := &Consumer{
		QueueName:   queueName,
		Channel:     ch,
		StopChan:    make(chan struct{}),
		DoneChan:    make(chan struct{}),
		Handler:     handler,
		ConsumerTag: "fair-" + queueName,
	}

	deliveries, err := ch.Consume(queueName, c.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("queue %s: failed to start consuming: %w", queueName, err)
	}

	go c.consumeLoop(deliveries)

	zap.L().Info("consumer started", zap.String("queue", queueName), zap.Int("prefetch", prefetch))
	return c, nil
}

func (c *Consumer) consumeLoop(deliveries <-chan amqp.Delivery) {
	defer close(c.DoneChan)

	for {
		select {
		case <-c.StopChan:
			_ = c.Channel.Cancel(c.ConsumerTag, false)
			return
		case d, ok := <-deliveries:
			if !ok {
				metrics.ConsumerChannelClosed.WithLabelValues(c.QueueName).Inc()
				zap.L().Warn("delivery channel closed by broker", zap.String("queue", c.QueueName))
				return
			}
			c.Handler(d)
		}
	}
}

// Stop cancels the subscription, waits for the delivery in hand to be
// passed on and closes the channel.
func (c *Consumer) Stop() {
	close(c.StopChan)
	<-c.DoneChan
	_ = c.Channel.Close()
	zap.L().Info("consumer stopped", zap.String("queue", c.QueueName))
}

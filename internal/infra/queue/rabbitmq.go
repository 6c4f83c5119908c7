package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"channel-pulse/internal/domain"
	"channel-pulse/internal/infra/metrics"
)

// RabbitTriggerQueue реализует очередь ручных триггеров через AMQP.
type RabbitTriggerQueue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queue     string
	deliverCh <-chan amqp.Delivery
}

var _ domain.TriggerQueue = (*RabbitTriggerQueue)(nil)

// NewRabbitTriggerQueue подключается к RabbitMQ и объявляет durable-очередь.
func NewRabbitTriggerQueue(amqpURL, queue string) (*RabbitTriggerQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}

	start := time.Now()
	conn, err := amqp.Dial(amqpURL)
	metrics.ObserveNetworkRequest("rabbitmq", "dial", queue, start, err)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &RabbitTriggerQueue{conn: conn, channel: channel, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitTriggerQueue) Enqueue(ctx context.Context, job domain.TriggerJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RabbitTriggerQueue) Pop(ctx context.Context) (domain.TriggerJob, error) {
	if q.deliverCh == nil {
		deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.TriggerJob{}, fmt.Errorf("amqp consume: %w", err)
		}
		q.deliverCh = deliveries
	}

	for {
		select {
		case <-ctx.Done():
			return domain.TriggerJob{}, ctx.Err()
		case delivery, ok := <-q.deliverCh:
			if !ok {
				return domain.TriggerJob{}, errors.New("amqp queue: канал доставки закрыт")
			}
			var job domain.TriggerJob
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				_ = delivery.Nack(false, false)
				return domain.TriggerJob{}, fmt.Errorf("decode job: %w", err)
			}
			if err := delivery.Ack(false); err != nil {
				return domain.TriggerJob{}, fmt.Errorf("ack job: %w", err)
			}
			return job, nil
		}
	}
}

// Close закрывает канал и соединение.
func (q *RabbitTriggerQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}

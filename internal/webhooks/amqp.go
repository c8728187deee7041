package webhooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueuePublisher sends run lifecycle events to a durable queue.
type QueuePublisher struct {
	Channel Channel
	Queue   string
	Timeout time.Duration
	Log     *slog.Logger
}

// DialQueue connects, opens a channel and declares the durable queue. The returned
// close func releases both.
func DialQueue(url, queue string, timeout time.Duration, log *slog.Logger) (*QueuePublisher, func(), error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	closeFn := func() {
		ch.Close()
		conn.Close()
	}
	return &QueuePublisher{Channel: ch, Queue: queue, Timeout: timeout, Log: log}, closeFn, nil
}

func (q *QueuePublisher) Emit(ctx context.Context, eventType string, data any) {
	body, err := json.Marshal(NewEvent(eventType, data))
	if err != nil {
		q.Log.Error("queue payload encode failed", "event", eventType, "error", err)
		return
	}
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = q.Channel.PublishWithContext(ctx, "", q.Queue, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         eventType,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		q.Log.Warn("queue publish failed", "event", eventType, "queue", q.Queue, "error", err)
	}
}

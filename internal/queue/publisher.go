package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends DocumentEvents to RabbitMQ.  Each call dials, declares
// the queue and publishes one persistent message; errors are logged and
// returned so callers can ignore them without failing the request.
type Publisher struct {
	url string
	log *zap.Logger
}

func NewPublisher(url string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{url: url, log: log}
}

// Publish routes ev to DocumentEventsQueue.
func (p *Publisher) Publish(ctx context.Context, ev DocumentEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("rabbitmq dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(DocumentEventsQueue, true, false, false, false, nil); err != nil {
		p.log.Warn("rabbitmq queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Event,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", DocumentEventsQueue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq publish failed", zap.String("event", ev.Event), zap.Uint64("document_id", ev.DocumentID), zap.Error(err))
		return err
	}
	return nil
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// NotificationLog is where the consumer appends one line per event.
var NotificationLog = filepath.Join("logs", "notifications.log")

// StartNotificationConsumer consumes DocumentEventsQueue and appends a
// notification line per event to NotificationLog.  It reconnects with
// exponential backoff and returns only when ctx is cancelled.
func StartNotificationConsumer(ctx context.Context, url string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("notification consumer dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("notification consumer loop ended; reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("notification consumer set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(DocumentEventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(DocumentEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := HandleMessage(d.Body, NotificationLog); err != nil {
				log.Warn("notification consumer handle message failed", zap.Error(err))
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one DocumentEvent and appends its notification
// line to path.
func HandleMessage(body []byte, path string) error {
	var ev DocumentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatNotification(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatNotification renders the single-line notification for ev.
func FormatNotification(ev DocumentEvent) string {
	line := fmt.Sprintf("[%s] %s | document_id=%d | title=%q | status=%s",
		ev.OccurredAt.UTC().Format(time.RFC3339), notificationText(ev), ev.DocumentID, ev.Title, ev.Status)
	if ev.SignerID != 0 {
		line += fmt.Sprintf(" | signer_id=%d | signer=%q", ev.SignerID, ev.SignerEmail)
	}
	if ev.NextSignerID != 0 {
		line += fmt.Sprintf(" | notify=%q", ev.NextEmail)
	}
	if ev.Reason != "" {
		line += fmt.Sprintf(" | reason=%q", ev.Reason)
	}
	return line + "\n"
}

func notificationText(ev DocumentEvent) string {
	switch ev.Event {
	case "document_prepared":
		return "Document ready for signing"
	case "signer_completed":
		return "Signer completed"
	case "document_completed":
		return "Document fully signed"
	case "document_declined":
		return "Document declined"
	case "document_expired":
		return "Document expired"
	}
	return "Document updated (" + ev.Event + ")"
}

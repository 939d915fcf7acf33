package leads

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const leadCapturedKey = "lead.captured"

type leadEvent struct {
	EventID    string       `json:"event_id"`
	OccurredAt time.Time    `json:"occurred_at"`
	Lead       Lead         `json:"lead"`
	Result     Confirmation `json:"result"`
}

// AMQPNotifier publishes lead-captured events to a topic exchange so the
// email-notification flow (out of scope here) can react asynchronously.
type AMQPNotifier struct {
	conn     *amqp091.Connection
	exchange string
}

// NewAMQPNotifier dials the broker and declares the exchange. Callers that
// run without a broker should pass an empty URL to Notifier construction
// upstream and skip this entirely.
func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPNotifier{conn: conn, exchange: exchange}, nil
}

func (n *AMQPNotifier) LeadCaptured(ctx context.Context, lead Lead, conf Confirmation) error {
	ch, err := n.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ev := leadEvent{EventID: uuid.NewString(), OccurredAt: time.Now(), Lead: lead, Result: conf}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, n.exchange, leadCapturedKey, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     ev.EventID,
		CorrelationId: lead.SessionID,
		Timestamp:     ev.OccurredAt,
		Body:          body,
	})
	if err == nil {
		log.Printf("leads: published %s for lead %s", leadCapturedKey, conf.LeadID)
	}
	return err
}

func (n *AMQPNotifier) Close() error { return n.conn.Close() }

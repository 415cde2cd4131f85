package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/streadway/amqp"
)

// Entry is one conversation-history event emitted after a successful send.
type Entry struct {
	CampaignID  int       `json:"campaign_id"`
	ItemID      int       `json:"item_id"`
	Channel     string    `json:"channel"`
	Direction   string    `json:"direction"`
	Body        string    `json:"body,omitempty"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Sink receives conversation-history entries. Appends are best-effort:
// callers log failures and move on, a sink error never fails a dispatch.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// AMQPSink publishes history entries to a topic exchange consumed by the
// conversation pipeline.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPSink(url string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	exchange := "conversation.history"
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Append(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return s.ch.Publish(
		s.exchange,
		"history."+e.Channel,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   e.OccurredAt,
		},
	)
}

func (s *AMQPSink) Close() error {
	s.ch.Close()
	return s.conn.Close()
}

// NoopSink is used in tests and when AMQP is not configured.
type NoopSink struct{}

func (NoopSink) Append(ctx context.Context, e Entry) error { return nil }

var _ Sink = (*AMQPSink)(nil)
var _ Sink = NoopSink{}

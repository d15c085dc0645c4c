package service

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"rtc_server/server/realtime/domain"
)

const notifyRoutingKeyPrefix = "user."

// NotifyPublisher hands message notifications to an AMQP exchange consumed
// by the offline push pipeline.
type NotifyPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewNotifyPublisher(url, exchange string) (*NotifyPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	return &NotifyPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *NotifyPublisher) PublishNotification(ctx context.Context, recipientID string, event domain.Envelope) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, notifyRoutingKeyPrefix+recipientID, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (p *NotifyPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

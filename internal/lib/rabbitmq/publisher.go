package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// PublishMessage публикует сообщение в формате JSON.
func PublishMessage(ch *amqp.Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// KeyPublisher публикует уведомления о выпущенных регистрационных ключах.
type KeyPublisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

// NewKeyPublisher создаёт KeyPublisher поверх канала, настроенного SetupChannel.
func NewKeyPublisher(ch *amqp.Channel) *KeyPublisher {
	return &KeyPublisher{ch: ch}
}

// NotifyKeyIssued публикует сообщение в очередь KeyIssuedQueue.
func (p *KeyPublisher) NotifyKeyIssued(ctx context.Context, msg models.KeyIssuedMessage) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq.NotifyKeyIssued: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublishMessage(p.ch, ExchangeName, KeyIssuedRoutingKey, msg)
}

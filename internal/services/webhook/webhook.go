// Package services принимает уведомления Stripe: проверяет подпись, приводит событие
// к каноническому виду и передаёт его на сверку.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/magabrotheeeer/subscription-billing/internal/billing"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
)

// ErrInvalidSignature возвращается, если подпись отсутствует или не совпадает.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// EventApplier применяет каноническое событие.
type EventApplier interface {
	Apply(ctx context.Context, ev billing.Event) error
}

// WebhookService обрабатывает тела уведомлений Stripe.
type WebhookService struct {
	secret  string
	applier EventApplier
	log     *slog.Logger
}

// NewWebhookService создает новый экземпляр WebhookService.
func NewWebhookService(secret string, applier EventApplier, log *slog.Logger) *WebhookService {
	return &WebhookService{
		secret:  secret,
		applier: applier,
		log:     log,
	}
}

// Process проверяет подпись и применяет событие. Ошибка подписи возвращается как
// ErrInvalidSignature. Остальные ошибки описывают сбой обработки уже принятого события.
func (s *WebhookService) Process(ctx context.Context, payload []byte, signature string) (billing.Event, error) {
	const op = "webhook.Process"
	event, err := s.verify(payload, signature)
	if err != nil {
		return billing.Event{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}

	ev, err := billing.Normalize(event)
	if err != nil {
		s.log.Warn("failed to normalize event",
			slog.String("event_id", event.ID), slog.String("type", string(event.Type)), sl.Err(err))
		return ev, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.applier.Apply(ctx, ev); err != nil {
		return ev, fmt.Errorf("%s: %w", op, err)
	}
	return ev, nil
}

func (s *WebhookService) verify(payload []byte, signature string) (stripe.Event, error) {
	if s.secret == "" {
		return stripe.Event{}, errors.New("webhook secret is not configured")
	}
	return webhook.ConstructEventWithOptions(payload, signature, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

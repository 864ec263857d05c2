// Package paymentwebhook принимает уведомления Stripe.
//
// Ответ с ошибкой возвращается только при неверной подписи: Stripe повторит доставку.
// Любой другой исход подтверждается 200, чтобы не вызывать бесконечные повторы.
package paymentwebhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-billing/internal/billing"
	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	webhookservice "github.com/magabrotheeeer/subscription-billing/internal/services/webhook"
)

// SignatureHeader — заголовок с подписью Stripe.
const SignatureHeader = "Stripe-Signature"

// maxBodyBytes — предельный размер тела уведомления. Тело больше предела
// не обрабатывается, но подтверждается.
const maxBodyBytes = 1 << 20

// Service проверяет и применяет уведомление.
type Service interface {
	Process(ctx context.Context, payload []byte, signature string) (billing.Event, error)
}

// Handler обрабатывает уведомления Stripe.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Уведомление Stripe
// @Description Проверяет подпись Stripe-Signature и применяет событие к состоянию пользователя.
// @Tags Webhooks
// @Accept  json
// @Produce  json
// @Success 200 {object} map[string]bool
// @Failure 400 {object} response.ErrorResponse "Неверная подпись или тело"
// @Router /webhooks/stripe [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		log.Error("webhook body exceeds limit, acknowledging without processing",
			slog.Int64("limit", tooLarge.Limit))
		render.JSON(w, r, map[string]bool{"received": true})
		return
	}
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to read body"))
		return
	}

	ev, err := h.service.Process(r.Context(), payload, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, webhookservice.ErrInvalidSignature):
		log.Warn("webhook signature rejected", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	case err != nil:
		log.Error("webhook processing failed, acknowledging",
			slog.String("event_id", ev.ID), slog.String("kind", string(ev.Kind)), sl.Err(err))
	default:
		log.Info("webhook processed", slog.String("event_id", ev.ID), slog.String("kind", string(ev.Kind)))
	}

	render.JSON(w, r, map[string]bool{"received": true})
}

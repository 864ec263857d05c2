// Package cancel отменяет подписку пользователя у платёжного провайдера.
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	accountservice "github.com/magabrotheeeer/subscription-billing/internal/services/account"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

// Service отменяет подписку.
type Service interface {
	CancelSubscription(ctx context.Context, id string) error
}

// Handler обрабатывает запросы отмены подписки.
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
// @Summary Отмена подписки
// @Description Отменяет подписку у Stripe и сразу переводит пользователя в статус canceled
// @Tags Subscriptions
// @Produce  json
// @Param id path string true "ID пользователя"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Нет активной подписки"
// @Failure 500 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /users/{id}/subscription/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.cancel"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id := chi.URLParam(r, "id")
	err := h.service.CancelSubscription(r.Context(), id)
	switch {
	case errors.Is(err, accountservice.ErrNoSubscription):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("no active subscription"))
		return
	case errors.Is(err, storage.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case err != nil:
		log.Error("failed to cancel subscription", slog.String("user_id", id), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to cancel subscription"))
		return
	}

	log.Info("subscription canceled", slog.String("user_id", id))
	render.JSON(w, r, response.StatusOKWithData(map[string]string{
		"message": "subscription canceled",
	}))
}

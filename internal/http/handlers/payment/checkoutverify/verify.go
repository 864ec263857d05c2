// Package checkoutverify подтверждает оплаченную сессию Stripe после возврата
// пользователя со страницы оплаты, не дожидаясь уведомления.
package checkoutverify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/subscription-billing/internal/entitlement"
	"github.com/magabrotheeeer/subscription-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	checkoutservice "github.com/magabrotheeeer/subscription-billing/internal/services/checkout"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

// Request — ID сессии из адреса возврата.
type Request struct {
	SessionID string `json:"session_id" validate:"required,max=255"`
}

// Service подтверждает сессию.
type Service interface {
	VerifySession(ctx context.Context, userID, sessionID string) (entitlement.Snapshot, error)
}

// Handler обрабатывает подтверждение сессии оплаты.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Подтвердить оплату
// @Description Читает сессию Checkout у Stripe и, если она оплачена, активирует план так же, как уведомление checkout.session.completed
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request true "ID сессии"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Оплата не завершена"
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse "Сессия другого пользователя"
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /checkout/verify [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.checkoutverify"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		log.Error("user id not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	var req Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var validateErr validator.ValidationErrors
		if errors.As(err, &validateErr) {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(validateErr))
			return
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request"))
		return
	}

	snap, err := h.service.VerifySession(r.Context(), userID, req.SessionID)
	switch {
	case errors.Is(err, checkoutservice.ErrNotPaid):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("payment not completed"))
		return
	case errors.Is(err, checkoutservice.ErrForeignSession):
		log.Warn("checkout session of another user", slog.String("user_id", userID), slog.String("session", req.SessionID))
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, response.Error("action not allowed"))
		return
	case errors.Is(err, storage.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case err != nil:
		log.Error("failed to verify checkout session", slog.String("session", req.SessionID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to verify checkout session"))
		return
	}

	log.Info("checkout session verified", slog.String("user_id", userID), slog.String("session", req.SessionID))
	render.JSON(w, r, response.StatusOKWithData(snap))
}

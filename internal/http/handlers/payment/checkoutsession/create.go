// Package checkoutsession открывает сессию оплаты Stripe для выбранного плана.
package checkoutsession

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/subscription-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
	"github.com/magabrotheeeer/subscription-billing/internal/paymentprovider"
	checkoutservice "github.com/magabrotheeeer/subscription-billing/internal/services/checkout"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

// Request — план, который покупает пользователь.
type Request struct {
	Plan string `json:"plan" validate:"required,oneof=monthly yearly lifetime"`
}

// Service открывает сессию оплаты.
type Service interface {
	CreateSession(ctx context.Context, userID string, plan models.Plan) (*paymentprovider.CheckoutSession, error)
}

// Handler обрабатывает запросы на открытие сессии оплаты.
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
// @Summary Открыть сессию оплаты
// @Description Создаёт клиента Stripe при первой покупке и открывает сессию Checkout с userId и plan в metadata
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request true "План"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /checkout/sessions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.checkoutsession"
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

	session, err := h.service.CreateSession(r.Context(), userID, models.Plan(req.Plan))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case errors.Is(err, checkoutservice.ErrUnknownPlan):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid plan"))
		return
	case errors.Is(err, checkoutservice.ErrPriceNotConfigured):
		log.Error("price is not configured", slog.String("plan", req.Plan))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("plan is not available"))
		return
	case err != nil:
		log.Error("failed to create checkout session", slog.String("user_id", userID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to create checkout session"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(session))
}

package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
	adminservice "github.com/magabrotheeeer/subscription-billing/internal/services/admin"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

// OverrideRequest — новое состояние подписки.
type OverrideRequest struct {
	Status string `json:"subscription_status" validate:"required,oneof=free_trial monthly yearly lifetime past_due canceled unpaid"`
	Plan   string `json:"subscription_plan,omitempty" validate:"omitempty,oneof=monthly yearly lifetime"`
}

// Override вручную задаёт статус и план подписки.
type Override struct {
	base
	validate *validator.Validate
}

// NewOverride создает новый Override.
func NewOverride(log *slog.Logger, service Service) *Override {
	return &Override{base: base{log: log, service: service}, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Ручная смена подписки
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param id path string true "ID пользователя"
// @Param request body OverrideRequest true "Статус и план"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.Response
// @Security AdminKey
// @Router /admin/users/{id}/subscription [put]
func (h *Override) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.override")

	var req OverrideRequest
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

	id := chi.URLParam(r, "id")
	u, err := h.service.OverrideSubscription(r.Context(), id, adminservice.Override{
		Status: models.SubscriptionStatus(req.Status),
		Plan:   models.Plan(req.Plan),
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case errors.Is(err, adminservice.ErrInvalidOverride):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid subscription override"))
		return
	case err != nil:
		log.Error("failed to override subscription", slog.String("user_id", id), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("subscription overridden", slog.String("user_id", id), slog.String("status", req.Status))
	render.JSON(w, r, response.StatusOKWithData(u))
}

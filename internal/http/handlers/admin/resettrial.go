package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

// ResetTrial возвращает пользователя в пробный период с чистой квотой.
type ResetTrial struct{ base }

// NewResetTrial создает новый ResetTrial.
func NewResetTrial(log *slog.Logger, service Service) *ResetTrial {
	return &ResetTrial{base{log: log, service: service}}
}

// ServeHTTP godoc
// @Summary Сброс пробного периода
// @Tags Admin
// @Produce  json
// @Param id path string true "ID пользователя"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Security AdminKey
// @Router /admin/users/{id}/reset-trial [post]
func (h *ResetTrial) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.resettrial")

	id := chi.URLParam(r, "id")
	u, err := h.service.ResetTrial(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	}
	if err != nil {
		log.Error("failed to reset trial", slog.String("user_id", id), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(u))
}

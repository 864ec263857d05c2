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

// DeleteUser удаляет пользователя вместе с его платежами.
type DeleteUser struct{ base }

// NewDeleteUser создает новый DeleteUser.
func NewDeleteUser(log *slog.Logger, service Service) *DeleteUser {
	return &DeleteUser{base{log: log, service: service}}
}

// ServeHTTP godoc
// @Summary Удаление пользователя
// @Description Удаляет пользователя и его платежи. Журнал событий сохраняется
// @Tags Admin
// @Produce  json
// @Param id path string true "ID пользователя"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Security AdminKey
// @Router /admin/users/{id} [delete]
func (h *DeleteUser) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.deleteuser")

	id := chi.URLParam(r, "id")
	err := h.service.DeleteUser(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	}
	if err != nil {
		log.Error("failed to delete user", slog.String("user_id", id), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("user deleted", slog.String("user_id", id))
	render.JSON(w, r, response.StatusOKWithData(map[string]string{"deleted": id}))
}

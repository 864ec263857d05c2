package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// UserList отдаёт список пользователей.
type UserList struct{ base }

// NewUserList создает новый UserList.
func NewUserList(log *slog.Logger, service Service) *UserList {
	return &UserList{base{log: log, service: service}}
}

// ServeHTTP godoc
// @Summary Список пользователей
// @Tags Admin
// @Produce  json
// @Param status query string false "Статус подписки"
// @Param search query string false "Поиск по email или имени"
// @Param limit query int false "Размер страницы"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Security AdminKey
// @Router /admin/users [get]
func (h *UserList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.users")

	limit, offset := page(r)
	f := models.UserFilter{
		Status: models.SubscriptionStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	}
	users, err := h.service.ListUsers(r.Context(), f)
	if err != nil {
		log.Error("failed to list users", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"count": len(users),
		"users": users,
	}))
}

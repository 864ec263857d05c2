package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// EventLogList отдаёт журнал событий.
type EventLogList struct{ base }

// NewEventLogList создает новый EventLogList.
func NewEventLogList(log *slog.Logger, service Service) *EventLogList {
	return &EventLogList{base{log: log, service: service}}
}

// ServeHTTP godoc
// @Summary Журнал событий
// @Tags Admin
// @Produce  json
// @Param event_type query string false "Тип события"
// @Param status query string false "Статус обработки"
// @Param user_id query string false "ID пользователя"
// @Param limit query int false "Размер страницы"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.Response
// @Security AdminKey
// @Router /admin/event-logs [get]
func (h *EventLogList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.eventlogs")

	limit, offset := page(r)
	q := r.URL.Query()
	logs, err := h.service.ListEventLogs(r.Context(), models.EventLogFilter{
		EventType: q.Get("event_type"),
		Status:    models.EventStatus(q.Get("status")),
		UserID:    q.Get("user_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		log.Error("failed to list event logs", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"count":      len(logs),
		"event_logs": logs,
	}))
}

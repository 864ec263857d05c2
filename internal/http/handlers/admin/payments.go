package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// PaymentList отдаёт платёжный журнал.
type PaymentList struct{ base }

// NewPaymentList создает новый PaymentList.
func NewPaymentList(log *slog.Logger, service Service) *PaymentList {
	return &PaymentList{base{log: log, service: service}}
}

// ServeHTTP godoc
// @Summary Платёжный журнал
// @Tags Admin
// @Produce  json
// @Param user_id query string false "ID пользователя"
// @Param status query string false "Статус платежа"
// @Param type query string false "Тип платежа: subscription или one_time"
// @Param limit query int false "Размер страницы"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.Response
// @Security AdminKey
// @Router /admin/payments [get]
func (h *PaymentList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.payments")

	limit, offset := page(r)
	q := r.URL.Query()
	payments, err := h.service.ListPayments(r.Context(), models.PaymentFilter{
		UserID:      q.Get("user_id"),
		Status:      models.PaymentStatus(q.Get("status")),
		PaymentType: models.PaymentType(q.Get("type")),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		log.Error("failed to list payments", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"count":    len(payments),
		"payments": payments,
	}))
}

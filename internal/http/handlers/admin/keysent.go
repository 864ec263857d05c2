package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-billing/internal/http/response"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

// KeySent отмечает регистрационный ключ платежа отправленным.
type KeySent struct{ base }

// NewKeySent создает новый KeySent.
func NewKeySent(log *slog.Logger, service Service) *KeySent {
	return &KeySent{base{log: log, service: service}}
}

// ServeHTTP godoc
// @Summary Отметка об отправке ключа
// @Tags Admin
// @Produce  json
// @Param id path int true "ID платежа"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Ключ уже отмечен"
// @Security AdminKey
// @Router /admin/payments/{id}/key-sent [post]
func (h *KeySent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.keysent")

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid payment id"))
		return
	}

	p, err := h.service.MarkKeySent(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("payment not found"))
		return
	case errors.Is(err, storage.ErrKeyAlreadySent):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("registration key already marked as sent"))
		return
	case err != nil:
		log.Error("failed to mark key sent", slog.Int64("payment_id", id), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(p))
}

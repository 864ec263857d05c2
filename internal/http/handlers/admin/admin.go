// Package admin содержит обработчики административного API. Доступ к ним
// закрыт ключом X-Admin-Api-Key, см. middlewarectx.AdminKeyMiddleware.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
	adminservice "github.com/magabrotheeeer/subscription-billing/internal/services/admin"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// Service описывает административные операции.
type Service interface {
	OverrideSubscription(ctx context.Context, id string, o adminservice.Override) (*models.User, error)
	ResetTrial(ctx context.Context, id string) (*models.User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, f models.UserFilter) ([]*models.User, error)
	ListPayments(ctx context.Context, f models.PaymentFilter) ([]*models.Payment, error)
	ListEventLogs(ctx context.Context, f models.EventLogFilter) ([]*models.EventLog, error)
	MarkKeySent(ctx context.Context, paymentID int64) (*models.Payment, error)
}

type base struct {
	log     *slog.Logger
	service Service
}

func (b base) logger(r *http.Request, op string) *slog.Logger {
	return b.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// page читает limit и offset из строки запроса. Некорректные значения заменяются значениями по умолчанию.
func page(r *http.Request) (limit, offset int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, err = strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

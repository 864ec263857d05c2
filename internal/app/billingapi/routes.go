// Package billingapi собирает HTTP API сервиса биллинга.
package billingapi

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/admin"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/payment/checkoutsession"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/payment/checkoutverify"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/payment/paymentlist"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/usage/check"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/usage/decline"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/usage/record"
	"github.com/magabrotheeeer/subscription-billing/internal/http/handlers/user/status"
	"github.com/magabrotheeeer/subscription-billing/internal/http/middlewarectx"
	accountservice "github.com/magabrotheeeer/subscription-billing/internal/services/account"
	adminservice "github.com/magabrotheeeer/subscription-billing/internal/services/admin"
	authservice "github.com/magabrotheeeer/subscription-billing/internal/services/auth"
	checkoutservice "github.com/magabrotheeeer/subscription-billing/internal/services/checkout"
	webhookservice "github.com/magabrotheeeer/subscription-billing/internal/services/webhook"
)

// Deps — зависимости обработчиков.
type Deps struct {
	Auth        *authservice.AuthService
	Account     *accountservice.AccountService
	Admin       *adminservice.AdminService
	Checkout    *checkoutservice.CheckoutService
	Webhook     *webhookservice.WebhookService
	DB          health.Pinger
	Limiter     *middlewarectx.Limiter
	AdminAPIKey string
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health.New(logger, d.DB).ServeHTTP)
		r.Post("/register", register.New(logger, d.Auth).ServeHTTP)
		r.Post("/login", login.New(logger, d.Auth).ServeHTTP)

		// Подпись проверяется внутри обработчика.
		r.Post("/webhooks/stripe", paymentwebhook.New(logger, d.Webhook).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Auth, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, d.Limiter))

			r.Post("/usage/check", check.New(logger, d.Account).ServeHTTP)
			r.Post("/usage/record", record.New(logger, d.Account).ServeHTTP)
			r.Post("/usage/decline", decline.New(logger, d.Account).ServeHTTP)

			r.Post("/checkout/sessions", checkoutsession.New(logger, d.Checkout).ServeHTTP)
			r.Post("/checkout/verify", checkoutverify.New(logger, d.Checkout).ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.OwnerOrAdminMiddleware(logger))
				r.Get("/users/{id}", status.New(logger, d.Account).ServeHTTP)
				r.Get("/users/{id}/payments", paymentlist.New(logger, d.Account).ServeHTTP)
				r.Post("/users/{id}/subscription/cancel", cancel.New(logger, d.Account).ServeHTTP)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middlewarectx.AdminKeyMiddleware(logger, d.AdminAPIKey))
			r.Get("/users", admin.NewUserList(logger, d.Admin).ServeHTTP)
			r.Put("/users/{id}/subscription", admin.NewOverride(logger, d.Admin).ServeHTTP)
			r.Post("/users/{id}/reset-trial", admin.NewResetTrial(logger, d.Admin).ServeHTTP)
			r.Delete("/users/{id}", admin.NewDeleteUser(logger, d.Admin).ServeHTTP)
			r.Get("/payments", admin.NewPaymentList(logger, d.Admin).ServeHTTP)
			r.Post("/payments/{id}/key-sent", admin.NewKeySent(logger, d.Admin).ServeHTTP)
			r.Get("/event-logs", admin.NewEventLogList(logger, d.Admin).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}

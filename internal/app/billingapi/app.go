package billingapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-billing/internal/billing"
	"github.com/magabrotheeeer/subscription-billing/internal/cache"
	"github.com/magabrotheeeer/subscription-billing/internal/config"
	"github.com/magabrotheeeer/subscription-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/metrics"
	"github.com/magabrotheeeer/subscription-billing/internal/migrations"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
	"github.com/magabrotheeeer/subscription-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/subscription-billing/internal/regkey"
	accountservice "github.com/magabrotheeeer/subscription-billing/internal/services/account"
	adminservice "github.com/magabrotheeeer/subscription-billing/internal/services/admin"
	authservice "github.com/magabrotheeeer/subscription-billing/internal/services/auth"
	checkoutservice "github.com/magabrotheeeer/subscription-billing/internal/services/checkout"
	webhookservice "github.com/magabrotheeeer/subscription-billing/internal/services/webhook"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// App — HTTP-сервер API биллинга со всеми зависимостями.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *storage.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New подключается к PostgreSQL, Redis и RabbitMQ, применяет миграции и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "billingapi.New"

	if cfg.StripeWebhookSecret == "" {
		logger.Warn("stripe webhook secret is empty, all webhooks will be rejected")
	}
	if cfg.AdminAPIKey == "" {
		logger.Warn("admin api key is empty, admin api is disabled")
	}

	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		db.Close()
		cacheRedis.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetBillingQueues(), 0)
	if err != nil {
		conn.Close()
		db.Close()
		cacheRedis.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	provider := paymentprovider.NewClient(cfg.StripeSecretKey, nil)
	reconciler := billing.NewReconciler(logger, db, provider, regkey.New(nil),
		billing.WithNotifier(rabbitmq.NewKeyPublisher(ch)),
		billing.WithCache(cacheRedis),
		billing.WithRecorder(m),
	)

	checkout := checkoutservice.NewCheckoutService(db, provider, cacheRedis, reconciler, checkoutservice.Settings{
		Prices: map[models.Plan]string{
			models.PlanMonthly:  cfg.MonthlyPriceID,
			models.PlanYearly:   cfg.YearlyPriceID,
			models.PlanLifetime: cfg.LifetimePriceID,
		},
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
	}, logger)

	deps := Deps{
		Auth:        authservice.NewAuthService(db, jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)),
		Account:     accountservice.NewAccountService(db, cacheRedis, provider, reconciler, m, logger, cfg.CacheTTL),
		Admin:       adminservice.NewAdminService(db, cacheRedis, logger),
		Checkout:    checkout,
		Webhook:     webhookservice.NewWebhookService(cfg.StripeWebhookSecret, reconciler, logger),
		DB:          db.DB,
		Limiter:     middlewarectx.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		AdminAPIKey: cfg.AdminAPIKey,
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, deps)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		cache:  cacheRedis,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем плавно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err = a.server.Shutdown(timeoutCtx)
	}
	a.close()
	return err
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}

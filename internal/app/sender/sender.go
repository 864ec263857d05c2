// Package sender запускает воркер, отправляющий покупателям регистрационные ключи из очереди.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-billing/internal/config"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/smtp"
	senderservice "github.com/magabrotheeeer/subscription-billing/internal/services/sender"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

// App — потребитель очереди выпущенных ключей.
type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	db            *storage.Storage
	senderService *senderservice.Service
	workers       int
	logger        *slog.Logger
}

// New подключается к PostgreSQL и RabbitMQ и готовит SMTP-транспорт.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "sender.New"

	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetBillingQueues(), cfg.Prefetch)
	if err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	return &App{
		conn:          conn,
		ch:            ch,
		db:            db,
		senderService: senderservice.NewService(db, logger, transport),
		workers:       cfg.Workers,
		logger:        logger,
	}, nil
}

// Run обрабатывает очередь до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, rabbitmq.KeyIssuedQueue, a.workers, a.senderService.SendRegistrationKey)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", rabbitmq.KeyIssuedQueue), sl.Err(err))
		return err
	}
	a.logger.Info("consuming", slog.String("queue", rabbitmq.KeyIssuedQueue), slog.Int("workers", a.workers))

	<-ctx.Done()
	a.logger.Info("sender shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
	return nil
}

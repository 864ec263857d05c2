// Package services периодически повторно ставит в очередь регистрационные ключи,
// которые были выпущены, но так и не отмечены отправленными.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Repository ищет неотправленные ключи.
type Repository interface {
	ListUnsentKeys(ctx context.Context, olderThan time.Time, limit int) ([]models.KeyIssuedMessage, error)
}

// Notifier публикует сообщение о выпущенном ключе.
type Notifier interface {
	NotifyKeyIssued(ctx context.Context, msg models.KeyIssuedMessage) error
}

// Settings — параметры повторной отправки.
type Settings struct {
	// Период проверки.
	Interval time.Duration
	// Сколько ждать обычной доставки, прежде чем ставить ключ в очередь повторно.
	Grace time.Duration
	// Сколько ключей обрабатывать за проход.
	Batch int
}

// SchedulerService повторно публикует неотправленные ключи.
type SchedulerService struct {
	repo     Repository
	notifier Notifier
	settings Settings
	log      *slog.Logger
	now      func() time.Time
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(repo Repository, notifier Notifier, settings Settings, log *slog.Logger) *SchedulerService {
	return &SchedulerService{
		repo:     repo,
		notifier: notifier,
		settings: settings,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет проход сразу и затем каждые Interval до отмены ctx.
func (s *SchedulerService) Run(ctx context.Context) {
	s.RequeueUnsentKeys(ctx)

	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RequeueUnsentKeys(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RequeueUnsentKeys публикует ключи, выпущенные раньше now-Grace и не отмеченные отправленными.
// Возвращает число опубликованных сообщений. Повторная доставка безопасна: отправитель
// отмечает ключ ровно один раз.
func (s *SchedulerService) RequeueUnsentKeys(ctx context.Context) int {
	const op = "scheduler.RequeueUnsentKeys"
	log := s.log.With(slog.String("op", op))

	msgs, err := s.repo.ListUnsentKeys(ctx, s.now().Add(-s.settings.Grace), s.settings.Batch)
	if err != nil {
		log.Error("failed to find unsent keys", sl.Err(err))
		return 0
	}
	if len(msgs) == 0 {
		log.Debug("no unsent keys found")
		return 0
	}

	published := 0
	for _, msg := range msgs {
		if err := s.notifier.NotifyKeyIssued(ctx, msg); err != nil {
			log.Error("failed to publish message", slog.Int64("payment_id", msg.PaymentID), sl.Err(err))
			continue
		}
		published++
	}
	log.Info("unsent keys requeued", slog.Int("found", len(msgs)), slog.Int("published", published))
	return published
}

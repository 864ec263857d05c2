// Package services реализует API учёта платных действий: состояние доступа пользователя,
// проверку и учёт действия, регистрацию отказа оплаты, историю платежей и отмену подписки.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-billing/internal/billing"
	"github.com/magabrotheeeer/subscription-billing/internal/entitlement"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

var (
	// ErrNotAllowed возвращается, если пользователь исчерпал квоту или заблокирован.
	ErrNotAllowed = errors.New("metered action not allowed")
	// ErrNoSubscription возвращается, если у пользователя нет подписки у провайдера.
	ErrNoSubscription = errors.New("no active subscription")
)

// Итоги учёта платного действия для метрик.
const (
	OutcomeAllowed  = "allowed"
	OutcomeRecorded = "recorded"
	OutcomeDenied   = "denied"
	OutcomeDeclined = "declined"
)

// Repository описывает операции хранилища, нужные API аккаунта.
type Repository interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	IncrementQueriesUsed(ctx context.Context, id string) (int, bool, error)
	ListPaymentsByUser(ctx context.Context, userID string) ([]*models.Payment, error)
	AppendEventLog(ctx context.Context, e *models.EventLog) error
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(key string) error
}

// SubscriptionCanceler отменяет подписку у платёжного провайдера.
type SubscriptionCanceler interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// EventApplier применяет каноническое событие к состоянию пользователя.
type EventApplier interface {
	Apply(ctx context.Context, ev billing.Event) error
}

// MeteredRecorder учитывает исход платных действий.
type MeteredRecorder interface {
	ObserveMetered(outcome string)
}

// AccountService реализует бизнес-логику доступа к платным действиям.
type AccountService struct {
	repo     Repository
	cache    Cache
	provider SubscriptionCanceler
	applier  EventApplier
	metrics  MeteredRecorder
	log      *slog.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewAccountService создает новый экземпляр AccountService. metrics может быть nil.
func NewAccountService(repo Repository, cache Cache, provider SubscriptionCanceler, applier EventApplier,
	metrics MeteredRecorder, log *slog.Logger, cacheTTL time.Duration) *AccountService {
	return &AccountService{
		repo:     repo,
		cache:    cache,
		provider: provider,
		applier:  applier,
		metrics:  metrics,
		log:      log,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ResolveUser возвращает пользователя по ID, используя кеш или репозиторий.
func (s *AccountService) ResolveUser(ctx context.Context, id string) (*models.User, error) {
	const op = "account.ResolveUser"
	cacheKey := billing.UserCacheKey(id)

	var cached models.User
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read from cache", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.cache.Set(cacheKey, u, s.cacheTTL); err != nil {
		s.log.Warn("failed to add to cache", slog.String("key", cacheKey), sl.Err(err))
	}
	return u, nil
}

// Status возвращает состояние доступа пользователя.
func (s *AccountService) Status(ctx context.Context, id string) (entitlement.Snapshot, error) {
	u, err := s.ResolveUser(ctx, id)
	if err != nil {
		return entitlement.Snapshot{}, err
	}
	return entitlement.SnapshotOf(u, s.now()), nil
}

// Check сообщает, может ли пользователь выполнить платное действие, не расходуя квоту.
func (s *AccountService) Check(ctx context.Context, id string) (entitlement.Snapshot, error) {
	snap, err := s.Status(ctx, id)
	if err != nil {
		return snap, err
	}
	if snap.CanQuery {
		s.observe(OutcomeAllowed)
	} else {
		s.observe(OutcomeDenied)
	}
	return snap, nil
}

// Record учитывает выполненное платное действие. Если действие не разрешено,
// возвращает ErrNotAllowed вместе с текущим состоянием. Счётчик растёт только
// в пробном периоде.
func (s *AccountService) Record(ctx context.Context, id string) (entitlement.Snapshot, error) {
	const op = "account.Record"
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return entitlement.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	if !entitlement.CanPerform(u, now) {
		s.observe(OutcomeDenied)
		return entitlement.SnapshotOf(u, now), fmt.Errorf("%s: %w", op, ErrNotAllowed)
	}

	if u.SubscriptionStatus == models.StatusFreeTrial {
		used, changed, err := s.repo.IncrementQueriesUsed(ctx, id)
		if err != nil {
			return entitlement.Snapshot{}, fmt.Errorf("%s: %w", op, err)
		}
		if !changed {
			// Квоту израсходовал параллельный запрос.
			s.observe(OutcomeDenied)
			u.QueriesUsed = u.QueriesLimit
			return entitlement.SnapshotOf(u, now), fmt.Errorf("%s: %w", op, ErrNotAllowed)
		}
		u.QueriesUsed = used
		s.invalidate(id)
	}

	s.observe(OutcomeRecorded)
	return entitlement.SnapshotOf(u, now), nil
}

// Decline регистрирует отказ оплаты и блокирует платные действия согласно политике блокировок.
func (s *AccountService) Decline(ctx context.Context, id string) (entitlement.Snapshot, error) {
	const op = "account.Decline"
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return entitlement.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	until := entitlement.ApplyDecline(u, now)
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return entitlement.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(id)
	s.observe(OutcomeDeclined)

	s.audit(ctx, &models.EventLog{
		EventType: "usage.decline",
		Source:    models.SourceAPI,
		Status:    models.EventSuccess,
		UserID:    u.ID,
		UserEmail: u.Email,
		Action:    "apply_decline",
		Result:    fmt.Sprintf("decline %d, locked until %s", u.DeclineCount, until.Format(time.RFC3339)),
		EventData: map[string]any{"declineCount": u.DeclineCount, "lockoutUntil": until.Format(time.RFC3339)},
	})
	return entitlement.SnapshotOf(u, now), nil
}

// Payments возвращает последние платежи пользователя, новые первыми.
func (s *AccountService) Payments(ctx context.Context, id string) ([]*models.Payment, error) {
	const op = "account.Payments"
	if _, err := s.ResolveUser(ctx, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payments, err := s.repo.ListPaymentsByUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payments, nil
}

// CancelSubscription отменяет подписку у провайдера и сразу применяет локально
// те же изменения, что и событие удаления подписки.
func (s *AccountService) CancelSubscription(ctx context.Context, id string) error {
	const op = "account.CancelSubscription"
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if u.StripeSubscriptionID == "" {
		return fmt.Errorf("%s: %w", op, ErrNoSubscription)
	}
	if err := s.provider.CancelSubscription(ctx, u.StripeSubscriptionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("subscription canceled at provider",
		slog.String("user_id", u.ID), slog.String("subscription", u.StripeSubscriptionID))

	err = s.applier.Apply(ctx, billing.Event{
		Type:           "api.subscription.cancel",
		Kind:           billing.KindSubscriptionDeleted,
		Source:         models.SourceAPI,
		UserID:         u.ID,
		SubscriptionID: u.StripeSubscriptionID,
		CustomerID:     u.StripeCustomerID,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *AccountService) invalidate(id string) {
	if err := s.cache.Invalidate(billing.UserCacheKey(id)); err != nil {
		s.log.Warn("failed to remove from cache", slog.String("user_id", id), sl.Err(err))
	}
}

func (s *AccountService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveMetered(outcome)
	}
}

func (s *AccountService) audit(ctx context.Context, e *models.EventLog) {
	if err := s.repo.AppendEventLog(ctx, e); err != nil {
		s.log.Error("failed to append event log", slog.String("action", e.Action), sl.Err(err))
	}
}

// Package services реализует административные операции: ручное изменение подписки,
// сброс пробного периода, удаление пользователя и выборки для отчётности.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-billing/internal/billing"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// ErrInvalidOverride возвращается для недопустимой комбинации статуса и плана.
var ErrInvalidOverride = errors.New("invalid subscription override")

// Repository описывает операции хранилища, нужные администратору.
type Repository interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, f models.UserFilter) ([]*models.User, error)
	ListPayments(ctx context.Context, f models.PaymentFilter) ([]*models.Payment, error)
	ListEventLogs(ctx context.Context, f models.EventLogFilter) ([]*models.EventLog, error)
	MarkKeySent(ctx context.Context, id int64, at time.Time) (*models.Payment, error)
	AppendEventLog(ctx context.Context, e *models.EventLog) error
}

// Cache сбрасывает закешированное состояние пользователя.
type Cache interface {
	Invalidate(key string) error
}

// AdminService реализует административные операции.
type AdminService struct {
	repo  Repository
	cache Cache
	log   *slog.Logger
	now   func() time.Time
}

// NewAdminService создает новый экземпляр AdminService.
func NewAdminService(repo Repository, cache Cache, log *slog.Logger) *AdminService {
	return &AdminService{
		repo:  repo,
		cache: cache,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Override — новое состояние подписки, заданное администратором.
type Override struct {
	Status models.SubscriptionStatus
	Plan   models.Plan
}

// OverrideSubscription задаёт статус и план подписки вручную. Для оплаченного статуса
// план совпадает со статусом: пустой план берётся из статуса, другой отклоняется.
func (s *AdminService) OverrideSubscription(ctx context.Context, id string, o Override) (*models.User, error) {
	const op = "admin.OverrideSubscription"
	if !o.Status.Valid() || (o.Plan != models.PlanNone && !o.Plan.Valid()) {
		return nil, fmt.Errorf("%s: %w: status=%q plan=%q", op, ErrInvalidOverride, o.Status, o.Plan)
	}
	if paid := models.Plan(o.Status); paid.Valid() {
		if o.Plan != models.PlanNone && o.Plan != paid {
			return nil, fmt.Errorf("%s: %w: status=%q plan=%q", op, ErrInvalidOverride, o.Status, o.Plan)
		}
		o.Plan = paid
	}
	if o.Status == models.StatusFreeTrial && o.Plan != models.PlanNone {
		return nil, fmt.Errorf("%s: %w: status=%q plan=%q", op, ErrInvalidOverride, o.Status, o.Plan)
	}

	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	before := string(u.SubscriptionStatus)
	u.SubscriptionStatus = o.Status
	u.SubscriptionPlan = o.Plan
	if err := s.save(ctx, u); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, u, "override_subscription", fmt.Sprintf("status %s -> %s, plan=%s", before, o.Status, o.Plan))
	return u, nil
}

// ResetTrial возвращает пользователя в начальное состояние пробного периода.
func (s *AdminService) ResetTrial(ctx context.Context, id string) (*models.User, error) {
	const op = "admin.ResetTrial"
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.SubscriptionStatus = models.StatusFreeTrial
	u.SubscriptionPlan = models.PlanNone
	u.QueriesUsed = 0
	u.QueriesLimit = models.DefaultQueriesLimit
	u.LockoutUntil = nil
	u.DeclineCount = 0
	if err := s.save(ctx, u); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, u, "reset_trial", "trial reset")
	return u, nil
}

// DeleteUser удаляет пользователя вместе с его платежами.
func (s *AdminService) DeleteUser(ctx context.Context, id string) error {
	const op = "admin.DeleteUser"
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(id)
	s.audit(ctx, &models.User{ID: id}, "delete_user", "user deleted")
	return nil
}

// ListUsers возвращает пользователей по фильтру.
func (s *AdminService) ListUsers(ctx context.Context, f models.UserFilter) ([]*models.User, error) {
	users, err := s.repo.ListUsers(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("admin.ListUsers: %w", err)
	}
	return users, nil
}

// ListPayments возвращает платежи по фильтру.
func (s *AdminService) ListPayments(ctx context.Context, f models.PaymentFilter) ([]*models.Payment, error) {
	payments, err := s.repo.ListPayments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("admin.ListPayments: %w", err)
	}
	return payments, nil
}

// ListEventLogs возвращает записи аудита по фильтру.
func (s *AdminService) ListEventLogs(ctx context.Context, f models.EventLogFilter) ([]*models.EventLog, error) {
	logs, err := s.repo.ListEventLogs(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("admin.ListEventLogs: %w", err)
	}
	return logs, nil
}

// MarkKeySent вручную отмечает регистрационный ключ платежа отправленным.
func (s *AdminService) MarkKeySent(ctx context.Context, paymentID int64) (*models.Payment, error) {
	const op = "admin.MarkKeySent"
	p, err := s.repo.MarkKeySent(ctx, paymentID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.audit(ctx, &models.User{ID: p.UserID, Email: p.UserEmail}, "mark_key_sent",
		fmt.Sprintf("registration key of payment %d marked sent", p.ID))
	return p, nil
}

func (s *AdminService) save(ctx context.Context, u *models.User) error {
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.invalidate(u.ID)
	return nil
}

func (s *AdminService) invalidate(id string) {
	if err := s.cache.Invalidate(billing.UserCacheKey(id)); err != nil {
		s.log.Warn("failed to remove from cache", slog.String("user_id", id), sl.Err(err))
	}
}

func (s *AdminService) audit(ctx context.Context, u *models.User, action, result string) {
	entry := &models.EventLog{
		EventType: "admin." + action,
		Source:    models.SourceAdmin,
		Status:    models.EventSuccess,
		UserID:    u.ID,
		UserEmail: u.Email,
		Action:    action,
		Result:    result,
		EventData: map[string]any{},
	}
	if err := s.repo.AppendEventLog(ctx, entry); err != nil {
		s.log.Error("failed to append event log", slog.String("action", action), sl.Err(err))
	}
}

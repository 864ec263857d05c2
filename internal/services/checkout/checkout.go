// Package services открывает сессии оформления заказа Stripe и подтверждает
// оплаченные сессии, когда клиент возвращается со страницы оплаты.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v76"

	"github.com/magabrotheeeer/subscription-billing/internal/billing"
	"github.com/magabrotheeeer/subscription-billing/internal/entitlement"
	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
	"github.com/magabrotheeeer/subscription-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

var (
	// ErrUnknownPlan возвращается для плана вне monthly, yearly, lifetime.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrPriceNotConfigured возвращается, если для плана не задана цена.
	ErrPriceNotConfigured = errors.New("price not configured for plan")
	// ErrNotPaid возвращается для сессии, оплата которой не завершена.
	ErrNotPaid = errors.New("checkout session is not paid")
	// ErrForeignSession возвращается, если сессия открыта для другого пользователя.
	ErrForeignSession = errors.New("checkout session belongs to another user")
)

// Repository описывает операции хранилища, нужные оформлению заказа.
type Repository interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
}

// Provider описывает вызовы Stripe, нужные оформлению заказа.
type Provider interface {
	CreateCustomer(ctx context.Context, c paymentprovider.Customer) (string, error)
	CreateCheckoutSession(ctx context.Context, req paymentprovider.CheckoutRequest) (*paymentprovider.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

// Cache описывает инвалидацию кеша состояния пользователя.
type Cache interface {
	Invalidate(key string) error
}

// EventApplier применяет каноническое событие к состоянию пользователя.
type EventApplier interface {
	Apply(ctx context.Context, ev billing.Event) error
}

// Settings — цены планов и адреса возврата со страницы оплаты.
type Settings struct {
	Prices     map[models.Plan]string
	SuccessURL string
	CancelURL  string
}

// CheckoutService реализует оформление заказа.
type CheckoutService struct {
	repo     Repository
	provider Provider
	cache    Cache
	applier  EventApplier
	settings Settings
	log      *slog.Logger
	now      func() time.Time
}

// NewCheckoutService создает новый экземпляр CheckoutService.
func NewCheckoutService(repo Repository, provider Provider, cache Cache, applier EventApplier,
	settings Settings, log *slog.Logger) *CheckoutService {
	return &CheckoutService{
		repo:     repo,
		provider: provider,
		cache:    cache,
		applier:  applier,
		settings: settings,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession открывает сессию оплаты плана для пользователя. Клиент Stripe
// создаётся при первой покупке и запоминается у пользователя.
func (s *CheckoutService) CreateSession(ctx context.Context, userID string, plan models.Plan) (*paymentprovider.CheckoutSession, error) {
	const op = "checkout.CreateSession"
	if !plan.Valid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownPlan, plan)
	}
	priceID := s.settings.Prices[plan]
	if priceID == "" {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrPriceNotConfigured, plan)
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	customerID, err := s.customerFor(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	session, err := s.provider.CreateCheckoutSession(ctx, paymentprovider.CheckoutRequest{
		CustomerID: customerID,
		PriceID:    priceID,
		Recurring:  plan != models.PlanLifetime,
		SuccessURL: s.settings.SuccessURL,
		CancelURL:  s.settings.CancelURL,
		Metadata:   map[string]string{"userId": u.ID, "plan": string(plan)},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("checkout session created",
		slog.String("user_id", u.ID), slog.String("plan", string(plan)), slog.String("session", session.ID))
	return session, nil
}

func (s *CheckoutService) customerFor(ctx context.Context, u *models.User) (string, error) {
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}
	id, err := s.provider.CreateCustomer(ctx, paymentprovider.Customer{UserID: u.ID, Email: u.Email, Name: u.Name})
	if err != nil {
		return "", err
	}
	u.StripeCustomerID = id
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return "", err
	}
	if err := s.cache.Invalidate(billing.UserCacheKey(u.ID)); err != nil {
		s.log.Warn("failed to remove from cache", slog.String("user_id", u.ID), sl.Err(err))
	}
	return id, nil
}

// VerifySession подтверждает оплаченную сессию пользователя и возвращает его
// состояние доступа. Сессия, уже записанная в журнал по уведомлению, повторно
// не применяется.
func (s *CheckoutService) VerifySession(ctx context.Context, userID, sessionID string) (entitlement.Snapshot, error) {
	const op = "checkout.VerifySession"

	cs, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return entitlement.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if cs.Metadata["userId"] != userID {
		return entitlement.Snapshot{}, fmt.Errorf("%s: %w", op, ErrForeignSession)
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return entitlement.Snapshot{}, fmt.Errorf("%s: %w: %s", op, ErrNotPaid, cs.PaymentStatus)
	}

	_, err = s.repo.GetPaymentBySessionID(ctx, sessionID)
	switch {
	case err == nil:
		s.log.Info("checkout session already recorded", slog.String("session", sessionID))
	case errors.Is(err, storage.ErrNotFound):
		err = s.applier.Apply(ctx, billing.FromCheckoutSession(cs, models.SourceAPI))
		if err != nil && !errors.Is(err, billing.ErrConflict) {
			return entitlement.Snapshot{}, fmt.Errorf("%s: %w", op, err)
		}
	default:
		return entitlement.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return entitlement.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	return entitlement.SnapshotOf(u, s.now()), nil
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/subscription-billing/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-billing/internal/models"
	"github.com/magabrotheeeer/subscription-billing/internal/storage"
)

var (
	// ErrPersistence означает сбой записи в хранилище посреди обработки события.
	ErrPersistence = errors.New("persistence failure")
	// ErrConflict означает нарушение уникальности ключа или внешней ссылки.
	ErrConflict = errors.New("conflict")
	// ErrUnknownKind означает тип события вне перечня канонических.
	ErrUnknownKind = errors.New("unknown event kind")
)

// Действия, фиксируемые в журнале аудита.
const (
	ActionFindUser             = "find_user"
	ActionInferPlan            = "infer_plan"
	ActionUpdateUser           = "update_user"
	ActionCreatePayment        = "create_payment"
	ActionActivateSubscription = "activate_subscription"
	ActionSyncSubscription     = "sync_subscription"
	ActionCancelSubscription   = "cancel_subscription"
	ActionRecordInvoice        = "record_invoice"
	ActionMarkPastDue          = "mark_past_due"
	ActionNotify               = "notify"
	ActionIgnore               = "ignore"
)

// Store описывает хранилище, с которым работает сверка.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	CreatePayment(ctx context.Context, p *models.Payment) error
	AppendEventLog(ctx context.Context, e *models.EventLog) error
}

// IntervalLookup возвращает интервал списания подписки у провайдера.
type IntervalLookup interface {
	SubscriptionInterval(ctx context.Context, subscriptionID string) (string, error)
}

// KeyIssuer выпускает регистрационный ключ платежу до его записи.
type KeyIssuer interface {
	IssueIfEligible(p *models.Payment) bool
}

// KeyNotifier уведомляет о выпуске регистрационного ключа.
type KeyNotifier interface {
	NotifyKeyIssued(ctx context.Context, msg models.KeyIssuedMessage) error
}

// Cache сбрасывает закешированное состояние пользователя.
type Cache interface {
	Invalidate(key string) error
}

// Recorder учитывает обработанные события.
type Recorder interface {
	ObserveWebhook(kind, status string)
}

// Reconciler применяет канонические события к пользователям и журналам.
type Reconciler struct {
	log      *slog.Logger
	store    Store
	lookup   IntervalLookup
	keys     KeyIssuer
	notifier KeyNotifier
	cache    Cache
	metrics  Recorder
	now      func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithNotifier задаёт получателя уведомлений о выпущенных ключах.
func WithNotifier(n KeyNotifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithCache задаёт кеш, сбрасываемый после изменения пользователя.
func WithCache(c Cache) Option {
	return func(r *Reconciler) { r.cache = c }
}

// WithRecorder задаёт счётчики обработанных событий.
func WithRecorder(m Recorder) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler создаёт Reconciler.
func NewReconciler(log *slog.Logger, store Store, lookup IntervalLookup, keys KeyIssuer, opts ...Option) *Reconciler {
	r := &Reconciler{
		log:    log,
		store:  store,
		lookup: lookup,
		keys:   keys,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UserCacheKey — ключ кеша состояния пользователя.
func UserCacheKey(userID string) string {
	return "user:" + userID
}

type outcome struct {
	status models.EventStatus
	user   *models.User
	action string
	result string
	err    error
}

func success(u *models.User, action, result string) outcome {
	return outcome{status: models.EventSuccess, user: u, action: action, result: result}
}

func failure(u *models.User, action string, err error) outcome {
	return outcome{status: models.EventFailed, user: u, action: action, result: err.Error(), err: err}
}

// Apply применяет событие. Каждая попытка оставляет ровно одну запись аудита.
// Ненайденный пользователь не считается ошибкой. Ошибки записи возвращаются
// обёрнутыми в ErrPersistence или ErrConflict.
func (r *Reconciler) Apply(ctx context.Context, ev Event) error {
	const op = "billing.Apply"
	log := r.log.With(
		slog.String("op", op),
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
	)

	var out outcome
	switch ev.Kind {
	case KindCheckoutCompleted:
		out = r.checkoutCompleted(ctx, log, ev)
	case KindSubscriptionCreated:
		out = r.subscriptionCreated(ctx, ev)
	case KindSubscriptionUpdated:
		out = r.subscriptionUpdated(ctx, ev)
	case KindSubscriptionDeleted:
		out = r.subscriptionDeleted(ctx, ev)
	case KindInvoicePaid:
		out = r.invoicePaid(ctx, ev)
	case KindInvoicePaymentFailed:
		out = r.invoicePaymentFailed(ctx, ev)
	case KindPaymentSucceeded, KindPaymentFailed, KindTrialWillEnd:
		out = r.informational(ctx, ev)
	case KindIgnored:
		out = outcome{status: models.EventIgnored, action: ActionIgnore, result: "unhandled event type " + ev.Type}
	default:
		out = failure(nil, ActionIgnore, fmt.Errorf("%w: %s", ErrUnknownKind, ev.Kind))
	}

	switch {
	case out.err != nil:
		log.Error("event processing failed", slog.String("action", out.action), sl.Err(out.err))
	case out.status == models.EventFailed:
		log.Warn("event dropped", slog.String("action", out.action), slog.String("result", out.result))
	default:
		log.Info("event processed", slog.String("action", out.action), slog.String("status", string(out.status)))
	}

	auditErr := r.audit(ctx, ev, out)
	if auditErr != nil {
		log.Error("failed to append event log", sl.Err(auditErr))
	}
	if r.metrics != nil {
		r.metrics.ObserveWebhook(string(ev.Kind), string(out.status))
	}

	if out.err != nil {
		return fmt.Errorf("%s: %w", op, out.err)
	}
	if auditErr != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrPersistence, auditErr)
	}
	return nil
}

func (r *Reconciler) audit(ctx context.Context, ev Event, out outcome) error {
	entry := &models.EventLog{
		EventType:        ev.Type,
		Source:           models.SourceStripeWebhook,
		Status:           out.status,
		UserEmail:        ev.CustomerEmail,
		StripeEventID:    ev.ID,
		StripeSessionID:  ev.SessionID,
		StripeCustomerID: ev.CustomerID,
		Action:           out.action,
		Result:           out.result,
		EventData:        ev.Data(),
	}
	if entry.EventType == "" {
		entry.EventType = string(ev.Kind)
	}
	if ev.Source != "" {
		entry.Source = ev.Source
	}
	if out.user != nil {
		entry.UserID = out.user.ID
		entry.UserEmail = out.user.Email
	}
	if out.err != nil {
		entry.Error = out.err.Error()
	}
	return r.store.AppendEventLog(ctx, entry)
}

type lookup struct {
	label string
	key   string
	find  func(context.Context, string) (*models.User, error)
}

// lookups возвращает ключи поиска пользователя для события в порядке приоритета.
// Только оформление заказа ищет по ID из metadata и по email: остальные события
// провайдера привязаны к клиенту. Отмена через API передаёт проверенный ID пользователя.
func (r *Reconciler) lookups(ev Event) []lookup {
	byID := lookup{"userId", ev.UserID, r.store.GetUserByID}
	byEmail := lookup{"email", ev.CustomerEmail, r.store.GetUserByEmail}
	byCustomer := lookup{"customer", ev.CustomerID, r.store.GetUserByStripeCustomerID}

	switch {
	case ev.Kind == KindCheckoutCompleted:
		return []lookup{byID, byEmail, byCustomer}
	case ev.Source == models.SourceAPI:
		return []lookup{byID, byCustomer}
	default:
		return []lookup{byCustomer}
	}
}

// resolveUser ищет пользователя по ключам из lookups, первый найденный побеждает.
// Возвращает nil, если никто не найден.
func (r *Reconciler) resolveUser(ctx context.Context, ev Event) (*models.User, error) {
	for _, l := range r.lookups(ev) {
		if l.key == "" {
			continue
		}
		u, err := l.find(ctx, l.key)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (r *Reconciler) lookupKeys(ev Event) string {
	var keys []string
	for _, l := range r.lookups(ev) {
		if l.key != "" {
			keys = append(keys, l.label+"="+l.key)
		}
	}
	if len(keys) == 0 {
		return "no lookup keys"
	}
	return strings.Join(keys, " ")
}

// withUser разрешает пользователя и вызывает fn. Ненайденный пользователь даёт
// неуспешную запись аудита без ошибки.
func (r *Reconciler) withUser(ctx context.Context, ev Event, fn func(u *models.User) outcome) outcome {
	u, err := r.resolveUser(ctx, ev)
	if err != nil {
		return failure(nil, ActionFindUser, fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	if u == nil {
		return outcome{
			status: models.EventFailed,
			action: ActionFindUser,
			result: "user not found: " + r.lookupKeys(ev),
		}
	}
	return fn(u)
}

func persistErr(err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func (r *Reconciler) saveUser(ctx context.Context, u *models.User) error {
	if err := r.store.UpdateUser(ctx, u); err != nil {
		return persistErr(err)
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(UserCacheKey(u.ID)); err != nil {
			r.log.Warn("failed to invalidate user cache", slog.String("user_id", u.ID), sl.Err(err))
		}
	}
	return nil
}

// createPayment выпускает ключ, если платёж подходит, и записывает его в журнал.
func (r *Reconciler) createPayment(ctx context.Context, p *models.Payment) error {
	r.keys.IssueIfEligible(p)
	if err := r.store.CreatePayment(ctx, p); err != nil {
		return persistErr(err)
	}
	return nil
}

// inferPlan определяет план покупки. Ошибка получения интервала у провайдера
// не прерывает обработку: план считается monthly.
func (r *Reconciler) inferPlan(ctx context.Context, log *slog.Logger, ev Event) (models.Plan, bool) {
	if ev.Plan.Valid() {
		return ev.Plan, true
	}
	switch ev.Mode {
	case ModeOneTime:
		return models.PlanLifetime, true
	case ModeRecurring:
		if ev.Interval != "" {
			return PlanForInterval(ev.Interval), true
		}
		if ev.SubscriptionID == "" || r.lookup == nil {
			return models.PlanMonthly, true
		}
		interval, err := r.lookup.SubscriptionInterval(ctx, ev.SubscriptionID)
		if err != nil {
			log.Warn("interval lookup failed, defaulting to monthly",
				slog.String("subscription", ev.SubscriptionID), sl.Err(err))
			return models.PlanMonthly, true
		}
		return PlanForInterval(interval), true
	}
	return models.PlanNone, false
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, log *slog.Logger, ev Event) outcome {
	return r.withUser(ctx, ev, func(u *models.User) outcome {
		plan, ok := r.inferPlan(ctx, log, ev)
		if !ok {
			return outcome{
				status: models.EventFailed,
				user:   u,
				action: ActionInferPlan,
				result: fmt.Sprintf("cannot infer plan for checkout mode %q", ev.Mode),
			}
		}

		now := r.now()
		u.SubscriptionStatus = plan.Status()
		u.SubscriptionPlan = plan
		u.SubscriptionStartDate = &now
		u.QueriesUsed = 0
		u.LockoutUntil = nil
		u.DeclineCount = 0
		if ev.CustomerID != "" {
			u.StripeCustomerID = ev.CustomerID
		}
		if ev.SubscriptionID != "" {
			u.StripeSubscriptionID = ev.SubscriptionID
		}
		if err := r.saveUser(ctx, u); err != nil {
			return failure(u, ActionUpdateUser, err)
		}

		p := &models.Payment{
			UserID:                u.ID,
			UserEmail:             u.Email,
			StripeEventID:         ev.ID,
			StripePaymentIntentID: ev.PaymentIntentID,
			StripeSessionID:       ev.SessionID,
			Amount:                ev.Amount,
			Currency:              ev.Currency,
			Status:                models.PaymentSucceeded,
			PaymentType:           models.PaymentTypeForPlan(plan),
			SubscriptionPlan:      plan,
			PurchaseDate:          now,
			Metadata: map[string]any{
				"sessionId":     ev.SessionID,
				"customerEmail": ev.CustomerEmail,
			},
		}
		if err := r.createPayment(ctx, p); err != nil {
			return failure(u, ActionCreatePayment, err)
		}

		result := "subscription activated: plan=" + string(plan)
		if p.RegistrationKey != "" {
			result += ", registration key issued"
			r.notifyKeyIssued(ctx, u, p)
		}
		return success(u, ActionActivateSubscription, result)
	})
}

func (r *Reconciler) notifyKeyIssued(ctx context.Context, u *models.User, p *models.Payment) {
	if r.notifier == nil {
		return
	}
	msg := models.KeyIssuedMessage{
		PaymentID:       p.ID,
		UserEmail:       u.Email,
		UserName:        u.Name,
		RegistrationKey: p.RegistrationKey,
	}
	if err := r.notifier.NotifyKeyIssued(ctx, msg); err != nil {
		r.log.Error("failed to publish registration key notification",
			slog.Int64("payment_id", p.ID), sl.Err(err))
	}
}

func (r *Reconciler) subscriptionCreated(ctx context.Context, ev Event) outcome {
	return r.withUser(ctx, ev, func(u *models.User) outcome {
		plan := PlanForInterval(ev.Interval)
		u.SubscriptionPlan = plan
		u.SubscriptionStatus = plan.Status()
		if ev.SubscriptionID != "" {
			u.StripeSubscriptionID = ev.SubscriptionID
		}
		if !ev.PeriodStart.IsZero() {
			start := ev.PeriodStart
			u.SubscriptionStartDate = &start
		}
		if !ev.PeriodEnd.IsZero() {
			end := ev.PeriodEnd
			u.SubscriptionEndDate = &end
		}
		if err := r.saveUser(ctx, u); err != nil {
			return failure(u, ActionUpdateUser, err)
		}
		return success(u, ActionSyncSubscription, "subscription created: plan="+string(plan))
	})
}

// terminalStatuses — статусы провайдера, которые переопределяют статус пользователя.
var terminalStatuses = map[string]models.SubscriptionStatus{
	"past_due": models.StatusPastDue,
	"canceled": models.StatusCanceled,
	"unpaid":   models.StatusUnpaid,
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, ev Event) outcome {
	return r.withUser(ctx, ev, func(u *models.User) outcome {
		if status, ok := terminalStatuses[ev.SubscriptionStatus]; ok {
			u.SubscriptionStatus = status
		}
		if !ev.PeriodEnd.IsZero() {
			end := ev.PeriodEnd
			u.SubscriptionEndDate = &end
		}
		if err := r.saveUser(ctx, u); err != nil {
			return failure(u, ActionUpdateUser, err)
		}
		return success(u, ActionSyncSubscription, "subscription updated: status="+string(u.SubscriptionStatus))
	})
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, ev Event) outcome {
	return r.withUser(ctx, ev, func(u *models.User) outcome {
		now := r.now()
		u.SubscriptionStatus = models.StatusCanceled
		u.SubscriptionPlan = models.PlanNone
		u.StripeSubscriptionID = ""
		u.SubscriptionEndDate = &now
		u.QueriesUsed = 0
		if err := r.saveUser(ctx, u); err != nil {
			return failure(u, ActionUpdateUser, err)
		}
		return success(u, ActionCancelSubscription, "subscription canceled")
	})
}

func (r *Reconciler) invoicePayment(u *models.User, ev Event, status models.PaymentStatus) *models.Payment {
	md := map[string]any{"invoiceNumber": ev.InvoiceNumber}
	if status == models.PaymentSucceeded {
		if !ev.PeriodStart.IsZero() {
			md["periodStart"] = ev.PeriodStart.Format(time.RFC3339)
		}
		if !ev.PeriodEnd.IsZero() {
			md["periodEnd"] = ev.PeriodEnd.Format(time.RFC3339)
		}
	} else {
		md["attemptCount"] = ev.AttemptCount
		if ev.LastError != "" {
			md["lastError"] = ev.LastError
		}
	}
	return &models.Payment{
		UserID:                u.ID,
		UserEmail:             u.Email,
		StripeEventID:         ev.ID,
		StripeInvoiceID:       ev.InvoiceID,
		StripePaymentIntentID: ev.PaymentIntentID,
		Amount:                ev.Amount,
		Currency:              ev.Currency,
		Status:                status,
		PaymentType:           models.PaymentTypeSubscription,
		SubscriptionPlan:      u.SubscriptionPlan,
		PurchaseDate:          r.now(),
		Metadata:              md,
	}
}

func (r *Reconciler) invoicePaid(ctx context.Context, ev Event) outcome {
	return r.withUser(ctx, ev, func(u *models.User) outcome {
		if err := r.createPayment(ctx, r.invoicePayment(u, ev, models.PaymentSucceeded)); err != nil {
			return failure(u, ActionCreatePayment, err)
		}
		return success(u, ActionRecordInvoice, fmt.Sprintf("invoice paid: %d %s", ev.Amount, ev.Currency))
	})
}

func (r *Reconciler) invoicePaymentFailed(ctx context.Context, ev Event) outcome {
	return r.withUser(ctx, ev, func(u *models.User) outcome {
		u.SubscriptionStatus = models.StatusPastDue
		if err := r.saveUser(ctx, u); err != nil {
			return failure(u, ActionUpdateUser, err)
		}
		if err := r.createPayment(ctx, r.invoicePayment(u, ev, models.PaymentFailed)); err != nil {
			return failure(u, ActionCreatePayment, err)
		}
		return success(u, ActionMarkPastDue, fmt.Sprintf("invoice payment failed: attempt %d", ev.AttemptCount))
	})
}

func (r *Reconciler) informational(ctx context.Context, ev Event) outcome {
	return r.withUser(ctx, ev, func(u *models.User) outcome {
		result := string(ev.Kind)
		if ev.LastError != "" {
			result += ": " + ev.LastError
		}
		return success(u, ActionNotify, result)
	})
}

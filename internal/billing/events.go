// Package billing сводит события платёжного провайдера с локальным состоянием
// пользователей, платёжного журнала и журнала аудита.
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// EventKind — каноническое внутреннее представление типа события провайдера.
type EventKind string

const (
	KindCheckoutCompleted    EventKind = "checkout_completed"
	KindSubscriptionCreated  EventKind = "subscription_created"
	KindSubscriptionUpdated  EventKind = "subscription_updated"
	KindSubscriptionDeleted  EventKind = "subscription_deleted"
	KindInvoicePaid          EventKind = "invoice_paid"
	KindInvoicePaymentFailed EventKind = "invoice_payment_failed"
	KindPaymentSucceeded     EventKind = "payment_succeeded"
	KindPaymentFailed        EventKind = "payment_failed"
	KindTrialWillEnd         EventKind = "trial_will_end"
	KindIgnored              EventKind = "ignored"
)

// Kinds перечисляет все канонические типы событий.
var Kinds = []EventKind{
	KindCheckoutCompleted, KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted,
	KindInvoicePaid, KindInvoicePaymentFailed, KindPaymentSucceeded, KindPaymentFailed,
	KindTrialWillEnd, KindIgnored,
}

var stripeKinds = map[stripe.EventType]EventKind{
	"checkout.session.completed":           KindCheckoutCompleted,
	"customer.subscription.created":        KindSubscriptionCreated,
	"customer.subscription.updated":        KindSubscriptionUpdated,
	"customer.subscription.deleted":        KindSubscriptionDeleted,
	"customer.subscription.trial_will_end": KindTrialWillEnd,
	"invoice.paid":                         KindInvoicePaid,
	"invoice.payment_failed":               KindInvoicePaymentFailed,
	"payment_intent.succeeded":             KindPaymentSucceeded,
	"payment_intent.payment_failed":        KindPaymentFailed,
}

// KindOf возвращает канонический тип для типа события Stripe. Неизвестные типы
// отображаются в KindIgnored.
func KindOf(t stripe.EventType) EventKind {
	if k, ok := stripeKinds[t]; ok {
		return k
	}
	return KindIgnored
}

// Mode — форма транзакции оформления заказа.
type Mode string

const (
	ModeOneTime   Mode = "one_time"
	ModeRecurring Mode = "recurring"
)

// Интервалы списания по подписке.
const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// ErrMalformedEvent возвращается, если полезная нагрузка события не разбирается.
var ErrMalformedEvent = errors.New("malformed event payload")

// Event — каноническое событие с полями, которые использует сверка.
type Event struct {
	ID   string
	Type string
	Kind EventKind
	// Source пуст для событий провайдера.
	Source models.EventSource

	// Данные корреляции из metadata.
	UserID string
	Plan   models.Plan

	CustomerEmail   string
	CustomerID      string
	SessionID       string
	SubscriptionID  string
	PaymentIntentID string

	Mode               Mode
	Interval           string
	SubscriptionStatus string
	PeriodStart        time.Time
	PeriodEnd          time.Time

	Amount   int64
	Currency string

	InvoiceID     string
	InvoiceNumber string
	AttemptCount  int64
	LastError     string
}

// Data возвращает структурированное представление события для журнала аудита.
func (e Event) Data() map[string]any {
	data := map[string]any{"kind": string(e.Kind)}
	put := func(k, v string) {
		if v != "" {
			data[k] = v
		}
	}
	put("userId", e.UserID)
	put("plan", string(e.Plan))
	put("customerEmail", e.CustomerEmail)
	put("customer", e.CustomerID)
	put("session", e.SessionID)
	put("subscription", e.SubscriptionID)
	put("paymentIntent", e.PaymentIntentID)
	put("mode", string(e.Mode))
	put("interval", e.Interval)
	put("status", e.SubscriptionStatus)
	put("currency", e.Currency)
	put("invoice", e.InvoiceID)
	put("invoiceNumber", e.InvoiceNumber)
	put("lastError", e.LastError)
	if e.Amount != 0 {
		data["amount"] = e.Amount
	}
	if e.AttemptCount != 0 {
		data["attemptCount"] = e.AttemptCount
	}
	if !e.PeriodStart.IsZero() {
		data["periodStart"] = e.PeriodStart.Format(time.RFC3339)
	}
	if !e.PeriodEnd.IsZero() {
		data["periodEnd"] = e.PeriodEnd.Format(time.RFC3339)
	}
	return data
}

// Normalize переводит событие Stripe в каноническое событие.
func Normalize(se stripe.Event) (Event, error) {
	const op = "billing.Normalize"

	ev := Event{ID: se.ID, Type: string(se.Type), Kind: KindOf(se.Type)}
	if ev.Kind == KindIgnored {
		return ev, nil
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return ev, fmt.Errorf("%s: %w: empty data", op, ErrMalformedEvent)
	}

	var err error
	switch ev.Kind {
	case KindCheckoutCompleted:
		var s stripe.CheckoutSession
		if err = json.Unmarshal(se.Data.Raw, &s); err == nil {
			fromCheckoutSession(&ev, &s)
		}
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted, KindTrialWillEnd:
		var s stripe.Subscription
		if err = json.Unmarshal(se.Data.Raw, &s); err == nil {
			fromSubscription(&ev, &s)
		}
	case KindInvoicePaid, KindInvoicePaymentFailed:
		var inv stripe.Invoice
		if err = json.Unmarshal(se.Data.Raw, &inv); err == nil {
			fromInvoice(&ev, &inv)
		}
	case KindPaymentSucceeded, KindPaymentFailed:
		var pi stripe.PaymentIntent
		if err = json.Unmarshal(se.Data.Raw, &pi); err == nil {
			fromPaymentIntent(&ev, &pi)
		}
	case KindIgnored:
	}
	if err != nil {
		return ev, fmt.Errorf("%s: %w: %w", op, ErrMalformedEvent, err)
	}
	return ev, nil
}

func fromMetadata(ev *Event, md map[string]string) {
	ev.UserID = strings.TrimSpace(md["userId"])
	if p := models.Plan(strings.ToLower(strings.TrimSpace(md["plan"]))); p.Valid() {
		ev.Plan = p
	}
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// FromCheckoutSession строит событие завершённого оформления заказа из сессии,
// полученной напрямую у провайдера, а не из уведомления.
func FromCheckoutSession(s *stripe.CheckoutSession, source models.EventSource) Event {
	ev := Event{Type: "api.checkout.verify", Kind: KindCheckoutCompleted, Source: source}
	fromCheckoutSession(&ev, s)
	return ev
}

func fromCheckoutSession(ev *Event, s *stripe.CheckoutSession) {
	fromMetadata(ev, s.Metadata)
	ev.SessionID = s.ID
	ev.CustomerEmail = s.CustomerEmail
	if ev.CustomerEmail == "" && s.CustomerDetails != nil {
		ev.CustomerEmail = s.CustomerDetails.Email
	}
	ev.CustomerID = customerID(s.Customer)
	if s.Subscription != nil {
		ev.SubscriptionID = s.Subscription.ID
	}
	if s.PaymentIntent != nil {
		ev.PaymentIntentID = s.PaymentIntent.ID
	}
	switch s.Mode {
	case stripe.CheckoutSessionModePayment:
		ev.Mode = ModeOneTime
	case stripe.CheckoutSessionModeSubscription:
		ev.Mode = ModeRecurring
	}
	ev.Amount = s.AmountTotal
	ev.Currency = string(s.Currency)
}

func fromSubscription(ev *Event, s *stripe.Subscription) {
	fromMetadata(ev, s.Metadata)
	ev.SubscriptionID = s.ID
	ev.CustomerID = customerID(s.Customer)
	ev.SubscriptionStatus = string(s.Status)
	ev.Mode = ModeRecurring
	if s.Items != nil && len(s.Items.Data) > 0 {
		if item := s.Items.Data[0]; item.Price != nil && item.Price.Recurring != nil {
			ev.Interval = string(item.Price.Recurring.Interval)
		}
	}
	ev.PeriodStart = unixTime(s.CurrentPeriodStart)
	ev.PeriodEnd = unixTime(s.CurrentPeriodEnd)
}

func fromInvoice(ev *Event, inv *stripe.Invoice) {
	ev.InvoiceID = inv.ID
	ev.InvoiceNumber = inv.Number
	ev.CustomerEmail = inv.CustomerEmail
	ev.CustomerID = customerID(inv.Customer)
	if inv.Subscription != nil {
		ev.SubscriptionID = inv.Subscription.ID
	}
	if inv.PaymentIntent != nil {
		ev.PaymentIntentID = inv.PaymentIntent.ID
	}
	ev.Mode = ModeRecurring
	ev.Currency = string(inv.Currency)
	if ev.Kind == KindInvoicePaid {
		ev.Amount = inv.AmountPaid
	} else {
		ev.Amount = inv.AmountDue
	}
	ev.PeriodStart = unixTime(inv.PeriodStart)
	ev.PeriodEnd = unixTime(inv.PeriodEnd)
	ev.AttemptCount = inv.AttemptCount
	if inv.LastFinalizationError != nil {
		ev.LastError = inv.LastFinalizationError.Msg
	}
}

func fromPaymentIntent(ev *Event, pi *stripe.PaymentIntent) {
	fromMetadata(ev, pi.Metadata)
	ev.PaymentIntentID = pi.ID
	ev.CustomerID = customerID(pi.Customer)
	ev.CustomerEmail = pi.ReceiptEmail
	ev.Amount = pi.Amount
	ev.Currency = string(pi.Currency)
	if pi.LastPaymentError != nil {
		ev.LastError = pi.LastPaymentError.Msg
	}
}

// PlanForInterval возвращает план по интервалу списания: year — yearly, иначе monthly.
func PlanForInterval(interval string) models.Plan {
	if interval == IntervalYear {
		return models.PlanYearly
	}
	return models.PlanMonthly
}

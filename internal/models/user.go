// Package models содержит доменные структуры сервиса: пользователя с полями подписки
// и квоты запросов, запись платёжного журнала и запись аудита обработки событий.
// Структуры используются в бизнес‑логике, хранилище и HTTP‑слое.
package models

import (
	"strings"
	"time"
)

// SubscriptionStatus — текущее состояние подписки пользователя.
type SubscriptionStatus string

// Допустимые статусы подписки.
const (
	StatusFreeTrial SubscriptionStatus = "free_trial"
	StatusMonthly   SubscriptionStatus = "monthly"
	StatusYearly    SubscriptionStatus = "yearly"
	StatusLifetime  SubscriptionStatus = "lifetime"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCanceled  SubscriptionStatus = "canceled"
	StatusUnpaid    SubscriptionStatus = "unpaid"
)

// Valid сообщает, является ли статус одним из допустимых значений.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusFreeTrial, StatusMonthly, StatusYearly, StatusLifetime,
		StatusPastDue, StatusCanceled, StatusUnpaid:
		return true
	}
	return false
}

// Plan — тарифный план. PlanNone означает отсутствие плана.
type Plan string

// Допустимые тарифные планы.
const (
	PlanNone     Plan = ""
	PlanMonthly  Plan = "monthly"
	PlanYearly   Plan = "yearly"
	PlanLifetime Plan = "lifetime"
)

// Valid сообщает, является ли план одним из оплачиваемых значений.
func (p Plan) Valid() bool {
	return p == PlanMonthly || p == PlanYearly || p == PlanLifetime
}

// Status возвращает статус подписки, зеркалирующий план.
func (p Plan) Status() SubscriptionStatus {
	return SubscriptionStatus(p)
}

// Роли пользователя.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// DefaultQueriesLimit — квота запросов пробного периода по умолчанию.
const DefaultQueriesLimit = 5

// User представляет зарегистрированного пользователя вместе с состоянием подписки
// и счётчиками квоты.
type User struct {
	ID                    string             `json:"id"`
	Name                  string             `json:"name"`
	Email                 string             `json:"email"`
	PasswordHash          string             `json:"-"`
	Role                  string             `json:"role"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlan      Plan               `json:"subscription_plan"`
	SubscriptionStartDate *time.Time         `json:"subscription_start_date,omitempty"`
	SubscriptionEndDate   *time.Time         `json:"subscription_end_date,omitempty"`
	StripeCustomerID      string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID  string             `json:"stripe_subscription_id,omitempty"`
	QueriesUsed           int                `json:"queries_used"`
	QueriesLimit          int                `json:"queries_limit"`
	LockoutUntil          *time.Time         `json:"lockout_until,omitempty"`
	DeclineCount          int                `json:"decline_count"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// NormalizeEmail приводит адрес к виду, в котором он хранится: без пробелов, в нижнем регистре.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUser создаёт пользователя в начальном состоянии пробного периода.
func NewUser(name, email, passwordHash string) *User {
	return &User{
		Name:               strings.TrimSpace(name),
		Email:              NormalizeEmail(email),
		PasswordHash:       passwordHash,
		Role:               RoleUser,
		SubscriptionStatus: StatusFreeTrial,
		SubscriptionPlan:   PlanNone,
		QueriesLimit:       DefaultQueriesLimit,
	}
}

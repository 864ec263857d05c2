// Package entitlement реализует модель доступа к платным действиям: проверку,
// может ли пользователь выполнить запрос, расчёт оставшейся квоты и политику
// блокировки после отказов оплаты. Все функции чистые и не обращаются к хранилищу.
package entitlement

import (
	"encoding/json"
	"time"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Длительности блокировки по номеру отказа.
const (
	FirstDeclineLockout  = 24 * time.Hour
	SecondDeclineLockout = 48 * time.Hour
	MaxDeclineLockout    = 7 * 24 * time.Hour
)

// UnlimitedLabel — представление безлимитной квоты в JSON.
const UnlimitedLabel = "Unlimited"

// Allowance — остаток квоты: либо безлимит, либо неотрицательное число.
type Allowance struct {
	Unlimited bool
	Count     int
}

// MarshalJSON кодирует безлимит строкой "Unlimited", остальное — числом.
func (a Allowance) MarshalJSON() ([]byte, error) {
	if a.Unlimited {
		return json.Marshal(UnlimitedLabel)
	}
	return json.Marshal(a.Count)
}

// UnmarshalJSON разбирает значение, закодированное MarshalJSON.
func (a *Allowance) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		*a = Allowance{Unlimited: label == UnlimitedLabel}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = Allowance{Count: n}
	return nil
}

// IsPaid сообщает, относится ли статус к оплаченным (monthly, yearly, lifetime).
func IsPaid(status models.SubscriptionStatus) bool {
	switch status {
	case models.StatusMonthly, models.StatusYearly, models.StatusLifetime:
		return true
	}
	return false
}

// CanPerform сообщает, может ли пользователь выполнить платное действие в момент now.
//
// Оплаченные статусы разрешены всегда. Для остальных действует блокировка
// и лимит запросов.
func CanPerform(u *models.User, now time.Time) bool {
	if IsPaid(u.SubscriptionStatus) {
		return true
	}
	if u.LockoutUntil != nil && now.Before(*u.LockoutUntil) {
		return false
	}
	return u.QueriesUsed < u.QueriesLimit
}

// Remaining возвращает остаток квоты пользователя.
func Remaining(u *models.User) Allowance {
	if IsPaid(u.SubscriptionStatus) {
		return Allowance{Unlimited: true}
	}
	return Allowance{Count: max(0, u.QueriesLimit-u.QueriesUsed)}
}

// Record учитывает выполненное действие. Счётчик растёт только в статусе free_trial;
// возвращает true, если счётчик изменился.
func Record(u *models.User) bool {
	if u.SubscriptionStatus != models.StatusFreeTrial {
		return false
	}
	u.QueriesUsed++
	return true
}

// LockoutDuration возвращает длительность блокировки для n-го отказа.
func LockoutDuration(declineCount int) time.Duration {
	switch {
	case declineCount <= 1:
		return FirstDeclineLockout
	case declineCount == 2:
		return SecondDeclineLockout
	default:
		return MaxDeclineLockout
	}
}

// ApplyDecline регистрирует отказ оплаты: увеличивает счётчик отказов
// и выставляет блокировку до now + LockoutDuration.
func ApplyDecline(u *models.User, now time.Time) time.Time {
	u.DeclineCount++
	until := now.Add(LockoutDuration(u.DeclineCount))
	u.LockoutUntil = &until
	return until
}

// Snapshot — состояние доступа пользователя, отдаваемое API и кешируемое.
type Snapshot struct {
	UserID             string                    `json:"user_id"`
	SubscriptionStatus models.SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlan   models.Plan               `json:"subscription_plan"`
	QueriesUsed        int                       `json:"queries_used"`
	QueriesLimit       int                       `json:"queries_limit"`
	LockoutUntil       *time.Time                `json:"lockout_until,omitempty"`
	Remaining          Allowance                 `json:"remaining_queries"`
	CanQuery           bool                      `json:"can_query"`
}

// SnapshotOf строит Snapshot пользователя на момент now.
func SnapshotOf(u *models.User, now time.Time) Snapshot {
	return Snapshot{
		UserID:             u.ID,
		SubscriptionStatus: u.SubscriptionStatus,
		SubscriptionPlan:   u.SubscriptionPlan,
		QueriesUsed:        u.QueriesUsed,
		QueriesLimit:       u.QueriesLimit,
		LockoutUntil:       u.LockoutUntil,
		Remaining:          Remaining(u),
		CanQuery:           CanPerform(u, now),
	}
}

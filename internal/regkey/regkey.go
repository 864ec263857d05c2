// Package regkey выпускает регистрационные ключи для разовых (lifetime) покупок.
//
// Ключ выпускается явно до записи платежа в хранилище. Уникальность ключа
// гарантирует ограничение UNIQUE в хранилище; коллизия возвращается вызывающему
// как конфликт и здесь не повторяется.
package regkey

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-billing/internal/models"
)

// Prefix — фиксированный префикс ключа.
const Prefix = "LT"

const tokenLen = 8

var keyPattern = regexp.MustCompile(`^LT-[0-9A-F]{8}-[0-9A-F]{8}$`)

// Generator возвращает случайный токен. Подменяется в тестах.
type Generator func() string

// Issuer выпускает ключи из двух независимых токенов.
type Issuer struct {
	token Generator
}

// New создаёт Issuer. Если gen == nil, используется uuid v4.
func New(gen Generator) *Issuer {
	if gen == nil {
		gen = func() string { return uuid.NewString() }
	}
	return &Issuer{token: gen}
}

// NewKey формирует ключ вида LT-XXXXXXXX-XXXXXXXX.
func (i *Issuer) NewKey() string {
	return strings.Join([]string{Prefix, i.part(), i.part()}, "-")
}

func (i *Issuer) part() string {
	t := strings.ToUpper(strings.ReplaceAll(i.token(), "-", ""))
	if len(t) > tokenLen {
		t = t[:tokenLen]
	}
	return t
}

// Eligible сообщает, должен ли платёж получить ключ: plan=lifetime, status=succeeded
// и ключа ещё нет.
func Eligible(p *models.Payment) bool {
	return p.SubscriptionPlan == models.PlanLifetime &&
		p.Status == models.PaymentSucceeded &&
		p.RegistrationKey == ""
}

// IssueIfEligible выставляет ключ платежу, если он подходит. Уже выставленный ключ
// не перезаписывается. Возвращает true, если ключ был выпущен.
func (i *Issuer) IssueIfEligible(p *models.Payment) bool {
	if !Eligible(p) {
		return false
	}
	p.RegistrationKey = i.NewKey()
	return true
}

// Valid проверяет формат ключа.
func Valid(key string) bool {
	return keyPattern.MatchString(key)
}

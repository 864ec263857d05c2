package models

import "time"

// PaymentStatus — результат денежной операции.
type PaymentStatus string

// Статусы платежа.
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentType — разовая покупка или регулярное списание.
type PaymentType string

// Типы платежа.
const (
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeOneTime      PaymentType = "one_time"
)

// Payment — запись платёжного журнала. После создания меняются только
// поля отправки регистрационного ключа.
type Payment struct {
	ID                    int64          `json:"id"`
	UserID                string         `json:"user_id"`
	UserEmail             string         `json:"user_email"`
	StripeEventID         string         `json:"stripe_event_id,omitempty"`
	StripePaymentIntentID string         `json:"stripe_payment_intent_id,omitempty"`
	StripeInvoiceID       string         `json:"stripe_invoice_id,omitempty"`
	StripeSessionID       string         `json:"stripe_session_id,omitempty"`
	Amount                int64          `json:"amount"` // в минимальных единицах валюты
	Currency              string         `json:"currency"`
	Status                PaymentStatus  `json:"status"`
	PaymentType           PaymentType    `json:"payment_type"`
	SubscriptionPlan      Plan           `json:"subscription_plan"`
	RegistrationKey       string         `json:"registration_key,omitempty"`
	RegistrationKeySent   bool           `json:"registration_key_sent"`
	RegistrationKeySentAt *time.Time     `json:"registration_key_sent_at,omitempty"`
	PurchaseDate          time.Time      `json:"purchase_date"`
	Metadata              map[string]any `json:"metadata"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// PaymentTypeForPlan возвращает тип платежа для плана: lifetime — разовая покупка.
func PaymentTypeForPlan(p Plan) PaymentType {
	if p == PlanLifetime {
		return PaymentTypeOneTime
	}
	return PaymentTypeSubscription
}

// PaymentFilter задаёт выборку платежей для отчётности.
type PaymentFilter struct {
	UserID      string
	Status      PaymentStatus
	PaymentType PaymentType
	Limit       int
	Offset      int
}

// KeyIssuedMessage — сообщение очереди о выпущенном регистрационном ключе.
type KeyIssuedMessage struct {
	PaymentID       int64  `json:"payment_id"`
	UserEmail       string `json:"user_email"`
	UserName        string `json:"user_name"`
	RegistrationKey string `json:"registration_key"`
}

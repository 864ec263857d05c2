package models

import "time"

// EventStatus — итог попытки обработки события.
type EventStatus string

// Статусы записи аудита.
const (
	EventSuccess    EventStatus = "success"
	EventFailed     EventStatus = "failed"
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventIgnored    EventStatus = "ignored"
)

// EventSource — источник события.
type EventSource string

// Источники событий.
const (
	SourceStripeWebhook EventSource = "stripe_webhook"
	SourceAPI           EventSource = "api"
	SourceSystem        EventSource = "system"
	SourceAdmin         EventSource = "admin"
)

// EventLog — неизменяемая запись аудита одной попытки обработки события.
type EventLog struct {
	ID               int64          `json:"id"`
	EventType        string         `json:"event_type"`
	Source           EventSource    `json:"source"`
	Status           EventStatus    `json:"status"`
	UserID           string         `json:"user_id,omitempty"`
	UserEmail        string         `json:"user_email,omitempty"`
	StripeEventID    string         `json:"stripe_event_id,omitempty"`
	StripeSessionID  string         `json:"stripe_session_id,omitempty"`
	StripeCustomerID string         `json:"stripe_customer_id,omitempty"`
	Action           string         `json:"action"`
	Result           string         `json:"result"`
	EventData        map[string]any `json:"event_data"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// EventLogFilter задаёт выборку записей аудита.
type EventLogFilter struct {
	EventType string
	Status    EventStatus
	UserID    string
	Limit     int
	Offset    int
}

// UserFilter задаёт выборку пользователей для отчётности.
type UserFilter struct {
	Status SubscriptionStatus
	Search string
	Limit  int
	Offset int
}

// Package metrics содержит счётчики Prometheus сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — набор счётчиков сервиса.
type Metrics struct {
	webhookEvents  *prometheus.CounterVec
	meteredActions *prometheus.CounterVec
}

// New создаёт счётчики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Processed payment provider events by canonical kind and audit status.",
		}, []string{"kind", "status"}),
		meteredActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_metered_actions_total",
			Help: "Metered action requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.webhookEvents, m.meteredActions)
	return m
}

// ObserveWebhook учитывает обработанное событие провайдера.
func (m *Metrics) ObserveWebhook(kind, status string) {
	m.webhookEvents.WithLabelValues(kind, status).Inc()
}

// ObserveMetered учитывает запрос на тарифицируемое действие.
func (m *Metrics) ObserveMetered(outcome string) {
	m.meteredActions.WithLabelValues(outcome).Inc()
}
